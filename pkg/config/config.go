// Package config reads the daemon's process configuration: spec.md
// §6.3's environment surface plus the operational knobs the daemon
// itself needs, following the teacher's InitConfig/GetApplicationConfig
// viper+pflag+validator shape.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is sonorad's process configuration.
type Config struct {
	// Server is spec.md §6.3's SERVER: one of a unix-socket path,
	// "host[:port]", "tcp:host:port", "tcp4:...", "tcp6:...".
	Server string `mapstructure:"server" validate:"required"`

	DefaultSink   string `mapstructure:"default_sink"`
	DefaultSource string `mapstructure:"default_source"`

	SessionID string `mapstructure:"session_id"`
	MachineID string `mapstructure:"machine_id"`

	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogFile  string `mapstructure:"log_file"`

	// RTPPortMin/RTPPortMax bound the port range the RTP/RAOP engines
	// draw from (spec.md §4.J/§4.K), either via the in-process
	// allocator or pkg/rtpengine's Redis-backed one.
	RTPPortMin uint16 `mapstructure:"rtp_port_min" validate:"required"`
	RTPPortMax uint16 `mapstructure:"rtp_port_max" validate:"required,gtfield=RTPPortMin"`

	// PacketBufferSize is the RAOP retransmit ring's capacity
	// (spec.md §4.K / §8 invariant 7). Default mirrors the original
	// client's PACKET_BUFFER_SIZE of 1000.
	PacketBufferSize int `mapstructure:"packet_buffer_size" validate:"required,min=1"`

	// RedisAddr configures the distributed RTP port allocator; empty
	// falls back to the in-process allocator.
	RedisAddr string `mapstructure:"redis_addr"`

	// AdminListenAddr serves pkg/adminapi's HTTP+websocket surface;
	// empty disables it.
	AdminListenAddr string `mapstructure:"admin_listen_addr"`

	// StreamRestoreDBPath is pkg/streamrestore's sqlite file.
	StreamRestoreDBPath string `mapstructure:"stream_restore_db_path" validate:"required"`

	// RAOPHost/RAOPPort, if RAOPHost is non-empty, make the daemon
	// maintain one sink backed by a pkg/raop.Client session to that
	// AirTunes receiver (spec.md §4.K / §6.6).
	RAOPHost    string `mapstructure:"raop_host"`
	RAOPPort    int    `mapstructure:"raop_port"`
	RAOPUDP     bool   `mapstructure:"raop_udp"`
	RAOPEncrypt bool   `mapstructure:"raop_encrypt"`

	// RTPRemoteAddr, if set, makes the daemon maintain one sink that
	// sends its rendered audio as RTP to that host:port (spec.md §4.J).
	RTPRemoteAddr string `mapstructure:"rtp_remote_addr"`
	// RTPListenAddr, if set, makes the daemon maintain one source fed
	// by RTP packets received on that local host:port.
	RTPListenAddr string `mapstructure:"rtp_listen_addr"`
	// SAPAnnounce enables periodic SAP announcements (spec.md §6.5)
	// for the RTP sink configured above.
	SAPAnnounce      bool   `mapstructure:"sap_announce"`
	SAPMulticastAddr string `mapstructure:"sap_multicast_addr"`
}

// Load reads configuration from (in ascending priority) built-in
// defaults, an optional env file at ENV_PATH, and the process
// environment, then binds the flags in fs (if non-nil) on top, and
// validates the result.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	setDefaults(v)

	v.AddConfigPath(".")
	v.SetConfigName(".env")
	v.SetConfigType("env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		v.SetConfigFile(path)
	}
	v.AutomaticEnv()
	_ = v.ReadInConfig() // absent config file is not an error; env vars still apply

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("config: bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER", defaultServerAddr())
	v.SetDefault("DEFAULT_SINK", "")
	v.SetDefault("DEFAULT_SOURCE", "")
	v.SetDefault("SESSION_ID", "")
	v.SetDefault("MACHINE_ID", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("RTP_PORT_MIN", 16384)
	v.SetDefault("RTP_PORT_MAX", 32768)
	v.SetDefault("PACKET_BUFFER_SIZE", 1000)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("ADMIN_LISTEN_ADDR", "")
	v.SetDefault("STREAM_RESTORE_DB_PATH", "sonorad-stream-restore.db")
	v.SetDefault("RAOP_HOST", "")
	v.SetDefault("RAOP_PORT", 5000)
	v.SetDefault("RAOP_UDP", true)
	v.SetDefault("RAOP_ENCRYPT", true)
	v.SetDefault("RTP_REMOTE_ADDR", "")
	v.SetDefault("RTP_LISTEN_ADDR", "")
	v.SetDefault("SAP_ANNOUNCE", false)
	v.SetDefault("SAP_MULTICAST_ADDR", "224.0.0.56:9875")
}

// defaultServerAddr mirrors spec.md §6.3: a unix socket under
// XDG_RUNTIME_DIR when available, else a fixed TCP fallback.
func defaultServerAddr() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return "unix:" + dir + "/pulse/native"
	}
	return "tcp:localhost:4713"
}

// RegisterFlags defines the flags Load binds, one flag per mapstructure
// key the operator may want to override on the command line, named
// with dashes where the key has underscores.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("server", "", "listen address (unix:PATH or tcp:HOST:PORT)")
	fs.String("default-sink", "", "preferred fallback sink name")
	fs.String("default-source", "", "preferred fallback source name")
	fs.String("log-level", "", "log level (debug|info|warn|error)")
	fs.String("log-file", "", "log file path (empty logs to stdout)")
	fs.Uint16("rtp-port-min", 0, "lowest RTP/RAOP UDP port to allocate")
	fs.Uint16("rtp-port-max", 0, "highest RTP/RAOP UDP port to allocate")
	fs.Int("packet-buffer-size", 0, "RAOP retransmit ring capacity")
	fs.String("redis-addr", "", "redis address for the distributed RTP port allocator")
	fs.String("admin-listen-addr", "", "admin HTTP+websocket listen address (empty disables it)")
	fs.String("stream-restore-db-path", "", "sqlite database path for stream-restore persistence")
	fs.String("raop-host", "", "AirTunes receiver to maintain a sink against (empty disables RAOP)")
	fs.Int("raop-port", 0, "AirTunes receiver RTSP port")
	fs.Bool("raop-udp", false, "use UDP audio/control/timing channels for the RAOP sink")
	fs.Bool("raop-encrypt", false, "AES-encrypt the RAOP audio stream")
	fs.String("rtp-remote-addr", "", "host:port to send RTP audio to (empty disables the RTP sink)")
	fs.String("rtp-listen-addr", "", "host:port to receive RTP audio on (empty disables the RTP source)")
	fs.Bool("sap-announce", false, "announce the RTP sink's session via SAP")
	fs.String("sap-multicast-addr", "", "SAP multicast group:port")
}
