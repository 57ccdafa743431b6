package app

import (
	"io"
	"time"

	"github.com/MrWong99/scoreflow/internal/config"
	"github.com/MrWong99/scoreflow/pkg/audio/device"
)

// DefaultRegistry returns a registry with the built-in output backends:
// "oto" plays on the sound card, "null" discards audio in real time.
func DefaultRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterOutput("oto", func(cfg config.OutputConfig, src io.Reader) (device.Output, error) {
		out, err := device.NewOto(src, deviceOptions(cfg)...)
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	reg.RegisterOutput("null", func(cfg config.OutputConfig, src io.Reader) (device.Output, error) {
		return device.NewNull(src, deviceOptions(cfg)...), nil
	})
	return reg
}

func deviceOptions(cfg config.OutputConfig) []device.Option {
	return []device.Option{
		device.WithSampleRate(cfg.SampleRate),
		device.WithBuffer(time.Duration(cfg.BufferMS) * time.Millisecond),
	}
}
