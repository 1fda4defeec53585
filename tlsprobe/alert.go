package tlsprobe

import "fmt"

// Alert is a TLS alert as received from the server.
type Alert struct {
	Level       uint8
	Description uint8
}

const (
	alertLevelWarning uint8 = 1
	alertLevelFatal   uint8 = 2
)

var alertNames = map[uint8]string{
	0:   "close_notify",
	10:  "unexpected_message",
	20:  "bad_record_mac",
	21:  "decryption_failed",
	22:  "record_overflow",
	40:  "handshake_failure",
	42:  "bad_certificate",
	47:  "illegal_parameter",
	50:  "decode_error",
	51:  "decrypt_error",
	70:  "protocol_version",
	71:  "insufficient_security",
	80:  "internal_error",
	86:  "inappropriate_fallback",
	90:  "user_canceled",
	100: "no_renegotiation",
	109: "missing_extension",
	110: "unsupported_extension",
	116: "certificate_required",
}

func (a Alert) Fatal() bool { return a.Level == alertLevelFatal }

func (a Alert) String() string {
	name, ok := alertNames[a.Description]
	if !ok {
		name = fmt.Sprintf("alert(%d)", a.Description)
	}
	if a.Level == alertLevelWarning {
		return "warning " + name
	}
	return name
}

func parseAlert(body []byte) (Alert, bool) {
	if len(body) != 2 {
		return Alert{}, false
	}
	return Alert{Level: body[0], Description: body[1]}, true
}

// AlertError reports an alert that ended the server hello exchange.
type AlertError struct {
	Alert Alert
}

func (e *AlertError) Error() string {
	return "tlsprobe: server sent alert " + e.Alert.String()
}
