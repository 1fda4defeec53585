package localfs

import (
	"context"
	"fmt"

	"xdao.co/bbgen/storage"
	"xdao.co/bbgen/storage/casregistry"
)

const settingDir = "localfs-dir"

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "localfs",
		Description: "Local filesystem CAS (directory)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		Settings: []casregistry.Setting{
			{Key: settingDir, Help: "LocalFS CAS directory (for backend localfs)"},
		},
		Open: func(_ context.Context, s casregistry.Settings) (storage.CAS, func() error, error) {
			dir := s.String(settingDir)
			if dir == "" {
				return nil, nil, fmt.Errorf("missing --%s", settingDir)
			}
			cas, err := New(dir)
			return cas, nil, err
		},
	})
}
