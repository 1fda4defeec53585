package grpccas

import (
	"context"
	"fmt"

	"xdao.co/bbgen/storage"
	"xdao.co/bbgen/storage/casregistry"
)

const (
	settingTarget      = "grpc-target"
	settingDialTimeout = "grpc-dial-timeout"
	settingTimeout     = "grpc-timeout"
	settingMaxMsgBytes = "grpc-max-msg-bytes"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "grpc",
		Description: "gRPC CAS client (talks to a bbgen-casd daemon)",
		Usage:       casregistry.UsageCLI,
		Settings: []casregistry.Setting{
			{Key: settingTarget, Help: "gRPC target host:port (for backend grpc)"},
			{Key: settingDialTimeout, Default: "5s", Help: "Connect timeout (for backend grpc)"},
			{Key: settingTimeout, Help: "Per-RPC timeout (for backend grpc)"},
			{Key: settingMaxMsgBytes, Help: "Max gRPC message size in bytes (send+recv); empty uses grpc defaults"},
		},
		Open: func(_ context.Context, s casregistry.Settings) (storage.CAS, func() error, error) {
			target := s.String(settingTarget)
			if target == "" {
				return nil, nil, fmt.Errorf("missing --%s", settingTarget)
			}
			dialTimeout, err := s.Duration(settingDialTimeout)
			if err != nil {
				return nil, nil, err
			}
			timeout, err := s.Duration(settingTimeout)
			if err != nil {
				return nil, nil, err
			}
			maxMsg, err := s.Int(settingMaxMsgBytes)
			if err != nil {
				return nil, nil, err
			}

			client, err := Dial(target, DialOptions{Timeout: dialTimeout, MaxMsgBytes: maxMsg})
			if err != nil {
				return nil, nil, err
			}
			client.Timeout = timeout
			return client, client.Close, nil
		},
	})
}
