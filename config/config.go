package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// MockTarget is the device simulator started by ./mock-device.
const MockTarget = "tcp://localhost:9999"

type Config struct {
	Port   string // Device target (e.g. COM3, /dev/ttyUSB0, tcp://host:port, loop://x)
	Baud   int    // 0 selects the default rate
	WSAddr string
	LogDir string

	Mock  bool // Use the TCP device simulator instead of a serial port
	List  bool // Print candidate ports and exit
	Term  bool // Terminal pass-through instead of the WebSocket server
	Reset bool // Pulse DTR after opening in terminal mode
	Debug bool
}

// ErrTarget is returned by ParseTarget for a malformed target.
var ErrTarget = errors.New("config: malformed target")

// ParseTarget splits "<device>:<baud>". A target without a baud suffix
// is returned whole with baud 0. Scheme prefixes (loop://, bugst:) are
// not separators, and tcp:// targets end in a port number so they never
// carry a baud suffix.
func ParseTarget(s string) (string, int, error) {
	if s == "" {
		return "", 0, fmt.Errorf("%w: empty", ErrTarget)
	}
	if strings.HasPrefix(s, "tcp://") {
		return s, 0, nil
	}

	var scheme string
	switch {
	case strings.HasPrefix(s, "bugst:"):
		scheme = "bugst:"
	case strings.Contains(s, "://"):
		scheme = s[:strings.Index(s, "://")+3]
	}
	rest := s[len(scheme):]

	colon := strings.LastIndexByte(rest, ':')
	if colon == -1 {
		return s, 0, nil
	}
	name, rate := rest[:colon], rest[colon+1:]
	if name == "" {
		return "", 0, fmt.Errorf("%w: missing device name in %q", ErrTarget, s)
	}
	baud, err := strconv.Atoi(rate)
	if err != nil || baud < 0 {
		return "", 0, fmt.Errorf("%w: bad baud %q in %q", ErrTarget, rate, s)
	}
	return scheme + name, baud, nil
}

func defaultPort(goos string) string {
	if goos == "windows" {
		return "COM3"
	}
	return "/dev/ttyUSB0"
}

// Load parses os.Args and the environment.
func Load() (*Config, error) {
	return Parse(flag.CommandLine, os.Args[1:], os.Getenv)
}

// Parse reads flags from args into fs. Environment overrides win over
// flag defaults but not over flags given explicitly. The baud rate comes
// from -baud, else a :<baud> target suffix, else PROPLINK_BAUD.
func Parse(fs *flag.FlagSet, args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	fs.StringVar(&cfg.Port, "port", defaultPort(runtime.GOOS), "Device target (e.g. COM3, /dev/ttyUSB0, /dev/ttyUSB0:57600, tcp://host:9999)")
	fs.IntVar(&cfg.Baud, "baud", 0, "Baud rate: 115200, 57600 or 38400 (0 = 115200)")
	fs.StringVar(&cfg.WSAddr, "ws", ":8989", "WebSocket server address")
	fs.StringVar(&cfg.LogDir, "log-dir", "", "Directory for log files (stderr only when empty)")
	fs.BoolVar(&cfg.Mock, "mock", false, "Connect to the device simulator at "+MockTarget)
	fs.BoolVar(&cfg.List, "list", false, "List candidate ports and exit")
	fs.BoolVar(&cfg.Term, "term", false, "Terminal pass-through to the device")
	fs.BoolVar(&cfg.Reset, "reset", false, "Reset the device after opening (terminal mode)")
	fs.BoolVar(&cfg.Debug, "debug", false, "Log every byte sent and received")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	// Allow environment variable override
	if envPort := getenv("PROPLINK_PORT"); envPort != "" && !set["port"] {
		cfg.Port = envPort
	}
	envBaud := 0
	if v := getenv("PROPLINK_BAUD"); v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: PROPLINK_BAUD: %w", err)
		}
		envBaud = baud
	}

	if cfg.Mock {
		cfg.Port = MockTarget
	}

	name, suffix, err := ParseTarget(cfg.Port)
	if err != nil {
		return nil, err
	}
	cfg.Port = name

	// -baud, then a :<baud> suffix on the target, then PROPLINK_BAUD
	switch {
	case set["baud"]:
	case suffix != 0:
		cfg.Baud = suffix
	case envBaud != 0:
		cfg.Baud = envBaud
	}
	return cfg, nil
}
