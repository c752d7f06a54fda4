package redistore

import "testing"

func TestDeriveAuthScheme(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
		want     AuthScheme
	}{
		{"no password disables auth", "", "", AuthDisabled},
		{"user without password disables auth", "alice", "", AuthDisabled},
		{"password only is default AUTH", "", "secret", AuthDefault},
		{"user and password is ACL AUTH", "alice", "secret", AuthACL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveAuthScheme(tt.user, tt.password); got != tt.want {
				t.Errorf("deriveAuthScheme(%q, %q) = %v, want %v", tt.user, tt.password, got, tt.want)
			}
		})
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.Host != DefaultHost {
		t.Errorf("Host = %q, want %q", o.Host, DefaultHost)
	}
	if o.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", o.Port, DefaultPort)
	}
	if o.Logger == nil {
		t.Error("expected a non-nil default Logger")
	}

	custom := Options{Host: "redis.internal", Port: 7000}.withDefaults()
	if custom.Host != "redis.internal" || custom.Port != 7000 {
		t.Errorf("withDefaults overrode explicit values: %+v", custom)
	}
}

func TestClusterOptionsWithDefaults(t *testing.T) {
	c := ClusterOptions{}.withDefaults()
	if c.RetryAmount != DefaultRetryAmount {
		t.Errorf("RetryAmount = %d, want %d", c.RetryAmount, DefaultRetryAmount)
	}
	if c.RetryBaseTime != DefaultRetryBaseTime {
		t.Errorf("RetryBaseTime = %d, want %d", c.RetryBaseTime, DefaultRetryBaseTime)
	}
}

func TestTLSConfigValidateRequiresExplicitCertAndKey(t *testing.T) {
	disabled := TLSConfig{Enabled: false}
	if err := disabled.Validate(); err != nil {
		t.Errorf("disabled TLS should never fail validation: %v", err)
	}

	missing := TLSConfig{Enabled: true}
	if err := missing.Validate(); err == nil {
		t.Error("expected error when Enabled but ClientCert/ClientKey were never set")
	}

	explicitEmpty := TLSConfig{Enabled: true, ClientCertSet: true, ClientKeySet: true}
	if err := explicitEmpty.Validate(); err != nil {
		t.Errorf("explicitly empty clientCert/clientKey should be valid (server-auth-only TLS): %v", err)
	}
}

func TestConfigRequiresAtLeastOneClusterHost(t *testing.T) {
	_, err := NewFacade(nil, Config{Cluster: &ClusterConfig{}})
	if err == nil {
		t.Error("expected error when <Cluster> block has zero hosts")
	}
}
