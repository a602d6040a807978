package supercollider

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/chabad360/go-supercollider/osc"
)

// Transport names.
const (
	TransportUDP = "udp"
	TransportTCP = "tcp"
)

// Config configures a session.
type Config struct {
	// Host and Port address the engine.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Transport is udp or tcp.
	Transport string `yaml:"transport"`
	// Framing applies to tcp only.
	Framing osc.Framing `yaml:"framing"`
	// Timeout bounds every round trip.
	Timeout time.Duration `yaml:"timeout"`

	// NodeIDStart is the first node ID handed out. Lower IDs belong to the
	// engine (0 is the root group, 1 the default group).
	NodeIDStart int32 `yaml:"nodeIDStart"`
	// BufferIDStart is the first buffer ID handed out.
	BufferIDStart int32 `yaml:"bufferIDStart"`
	// BusStart is the first bus index handed out. Lower audio buses are the
	// hardware outputs and inputs.
	BusStart int32 `yaml:"busStart"`
	// BusCapacity is the number of channels available per bus kind.
	BusCapacity int32 `yaml:"busCapacity"`
}

// DefaultConfig returns the configuration of a local scsynth with stock
// settings.
func DefaultConfig() Config {
	return Config{
		Host:          "127.0.0.1",
		Port:          57110,
		Transport:     TransportUDP,
		Framing:       osc.FramingLength,
		Timeout:       250 * time.Millisecond,
		NodeIDStart:   1000,
		BufferIDStart: 0,
		BusStart:      16,
		BusCapacity:   112,
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.WithStack(err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parsing %s", path)
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("host is empty")
	case c.Port <= 0 || c.Port > 65535:
		return errors.Errorf("invalid port %d", c.Port)
	case c.Transport != TransportUDP && c.Transport != TransportTCP:
		return errors.Errorf("unknown transport %q", c.Transport)
	case c.Timeout <= 0:
		return errors.Errorf("invalid timeout %s", c.Timeout)
	case c.NodeIDStart < 2:
		return errors.Errorf("node IDs must start above the engine's groups, got %d", c.NodeIDStart)
	case c.BufferIDStart < 0:
		return errors.Errorf("invalid buffer ID start %d", c.BufferIDStart)
	case c.BusStart < 0:
		return errors.Errorf("invalid bus start %d", c.BusStart)
	case c.BusCapacity <= 0:
		return errors.Errorf("invalid bus capacity %d", c.BusCapacity)
	}
	if _, err := osc.ParseFraming(string(c.Framing)); err != nil {
		return err
	}
	return nil
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
