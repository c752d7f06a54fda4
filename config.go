package redistore

import (
	"context"
	"fmt"
	"time"
)

// AuthScheme selects how a NodeConnection authenticates after connecting,
// derived from whether a username/password were configured: an empty
// password disables auth, a password alone issues AUTH <pw>, and both
// issue AUTH <user> <pw> (Redis ACL style).
type AuthScheme int

const (
	AuthDisabled AuthScheme = iota
	AuthDefault
	AuthACL
)

func (s AuthScheme) String() string {
	switch s {
	case AuthDisabled:
		return "disabled"
	case AuthDefault:
		return "default"
	case AuthACL:
		return "acl"
	default:
		return "unknown"
	}
}

// deriveAuthScheme implements the table from the "Configuration" section:
// empty password = disabled; password only = default AUTH; both = ACL AUTH.
func deriveAuthScheme(user, password string) AuthScheme {
	switch {
	case password == "":
		return AuthDisabled
	case user == "":
		return AuthDefault
	default:
		return AuthACL
	}
}

// TLSConfig configures transport security for a node connection. Presence
// of a <Tls> block in the host's configuration document requires
// ClientCert and ClientKey to both be set, even to the empty string —
// an explicit opt-out of mutual TLS still has to be spelled out, mirroring
// the original configuration-time validation rather than leaving it
// implicit.
type TLSConfig struct {
	Enabled     bool
	ClientCert  string
	ClientKey   string
	CABundle    string
	CADirectory string

	// ClientCertSet/ClientKeySet record whether ClientCert/ClientKey were
	// explicitly assigned (as opposed to left at their zero value), so
	// Validate can tell "explicitly opted out of mTLS" apart from
	// "forgot to configure it".
	ClientCertSet bool
	ClientKeySet  bool
}

// Validate enforces that ClientCert and ClientKey were both explicitly set
// whenever TLS is enabled, regardless of whether their values are empty.
func (c TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !c.ClientCertSet || !c.ClientKeySet {
		return fmt.Errorf("redistore: <Tls> block requires both clientCert and clientKey attributes, even if empty")
	}
	return nil
}

// HostSpec names one cluster seed node: a <Host> child's body is the
// address, and its port attribute overrides DefaultPort.
type HostSpec struct {
	Host string
	Port int
}

// Options configures a single-node (non-cluster) NodeConnection.
type Options struct {
	Host string
	Port int

	// Prefix is prepended to every key's StorageId.
	Prefix string

	ConnectTimeout time.Duration
	CommandTimeout time.Duration

	// NonBlocking requests a non-blocking connection. Advisory: go-redis
	// manages its own I/O model, so this is carried through for parity
	// with the configuration contract rather than changing dial behavior.
	NonBlocking bool

	AuthUser     string
	AuthPassword string

	TLS TLSConfig

	Logger Logger
}

// ClusterOptions configures a ClusterRouter. Presence of this struct (as
// opposed to a bare Options) is what the <Cluster> child's presence
// switches on in the original configuration contract.
type ClusterOptions struct {
	Seeds []HostSpec

	Prefix string

	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	NonBlocking    bool

	AuthUser     string
	AuthPassword string

	TLS TLSConfig

	// RetryAmount is the router's maximum retry count on ConnectionLost
	// or Redirected before surfacing the failure. Default 5.
	RetryAmount int
	// RetryBaseTime is the base backoff in milliseconds. Default 500.
	RetryBaseTime int
	// RetryMaxTime caps the backoff in milliseconds; 0 means unbounded.
	RetryMaxTime int

	Logger Logger
}

const (
	DefaultHost          = "localhost"
	DefaultPort          = 6379
	DefaultRetryAmount   = 5
	DefaultRetryBaseTime = 500
	DefaultRetryMaxTime  = 0
)

// withDefaults returns a copy of o with zero-valued fields replaced by
// their documented defaults.
func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.Logger == nil {
		o.Logger = defaultLogger()
	}
	return o
}

func (c ClusterOptions) withDefaults() ClusterOptions {
	if c.RetryAmount == 0 {
		c.RetryAmount = DefaultRetryAmount
	}
	if c.RetryBaseTime == 0 {
		c.RetryBaseTime = DefaultRetryBaseTime
	}
	if c.Logger == nil {
		c.Logger = defaultLogger()
	}
	return c
}

func (o Options) authScheme() AuthScheme {
	return deriveAuthScheme(o.AuthUser, o.AuthPassword)
}

func (c ClusterOptions) authScheme() AuthScheme {
	return deriveAuthScheme(c.AuthUser, c.AuthPassword)
}

// Config is the plain record of connection, auth, TLS, and retry
// parameters a host assembles from its own structured configuration
// document (parsing that document is out of this module's scope — the
// host populates Config directly, whether from JSON, a DOM-based XML
// parser, or anything else). Cluster's presence mirrors the original
// <Cluster> child: if non-nil, NewFacade builds a ClusterRouter-backed
// facade instead of a single NodeConnection, and Cluster.Hosts must
// contain at least one entry.
type Config struct {
	Host string
	Port int

	Prefix string

	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	NonBlocking    bool

	AuthUser     string
	AuthPassword string

	RetryAmount   int
	RetryBaseTime int
	RetryMaxTime  int

	TLS TLSConfig

	Cluster *ClusterConfig

	Logger Logger
}

// ClusterConfig names the seed nodes a <Cluster> configuration block
// describes. At least one Host is required.
type ClusterConfig struct {
	Hosts []HostSpec
}

// NewFacade builds a StorageFacade from cfg: a ClusterRouter-backed facade
// if cfg.Cluster is set, else a single NodeConnection-backed facade.
func NewFacade(ctx context.Context, cfg Config) (*StorageFacade, error) {
	if cfg.Cluster != nil {
		if len(cfg.Cluster.Hosts) == 0 {
			return nil, fmt.Errorf("redistore: <Cluster> block requires at least one <Host>")
		}
		router, err := NewClusterRouter(ctx, ClusterOptions{
			Seeds:          cfg.Cluster.Hosts,
			Prefix:         cfg.Prefix,
			ConnectTimeout: cfg.ConnectTimeout,
			CommandTimeout: cfg.CommandTimeout,
			NonBlocking:    cfg.NonBlocking,
			AuthUser:       cfg.AuthUser,
			AuthPassword:   cfg.AuthPassword,
			TLS:            cfg.TLS,
			RetryAmount:    cfg.RetryAmount,
			RetryBaseTime:  cfg.RetryBaseTime,
			RetryMaxTime:   cfg.RetryMaxTime,
			Logger:         cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		return NewClusterStorageFacade(router), nil
	}

	nc, err := NewNode(Options{
		Host:           cfg.Host,
		Port:           cfg.Port,
		Prefix:         cfg.Prefix,
		ConnectTimeout: cfg.ConnectTimeout,
		CommandTimeout: cfg.CommandTimeout,
		NonBlocking:    cfg.NonBlocking,
		AuthUser:       cfg.AuthUser,
		AuthPassword:   cfg.AuthPassword,
		TLS:            cfg.TLS,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return NewStorageFacade(nc), nil
}
