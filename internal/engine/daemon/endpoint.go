package daemon

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/docker/docker/client"
)

// Endpoint is the resolved transport to a daemon. Treat it as immutable once
// produced by discovery.
type Endpoint struct {
	// Host is a URI with scheme tcp, unix or npipe.
	Host string `json:"host"`
	// TLSVerify enables TLS with the ca.pem, cert.pem and key.pem files in CertPath.
	TLSVerify bool   `json:"tls_verify,omitempty"`
	CertPath  string `json:"cert_path,omitempty"`
	// Headers are sent with every API request.
	Headers map[string]string `json:"headers,omitempty"`
}

// ErrTLSWithoutCerts is returned when TLS verification is requested without a cert path.
var ErrTLSWithoutCerts = errors.New("TLS verification requested but no certificate path set")

// Scheme returns the URI scheme of Host, or "" when Host does not parse.
func (e Endpoint) Scheme() string {
	u, err := url.Parse(e.Host)
	if err != nil {
		return ""
	}
	return u.Scheme
}

// Hostname returns the host a published container port is reachable on:
// the daemon's host for tcp endpoints, localhost for local sockets.
func (e Endpoint) Hostname() string {
	if e.Scheme() == "tcp" {
		if u, err := url.Parse(e.Host); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return "localhost"
}

// Validate checks the scheme and TLS settings.
func (e Endpoint) Validate() error {
	switch e.Scheme() {
	case "tcp", "unix", "npipe":
	case "":
		return fmt.Errorf("invalid docker host %q: missing scheme", e.Host)
	default:
		return fmt.Errorf("invalid docker host %q: unsupported scheme %q (valid: tcp, unix, npipe)", e.Host, e.Scheme())
	}
	if e.TLSVerify && e.CertPath == "" {
		return ErrTLSWithoutCerts
	}
	return nil
}

// ClientOpts returns SDK options selecting this endpoint.
func (e Endpoint) ClientOpts() []client.Opt {
	opts := []client.Opt{client.WithHost(e.Host)}
	if e.TLSVerify {
		opts = append(opts, client.WithTLSClientConfig(
			filepath.Join(e.CertPath, "ca.pem"),
			filepath.Join(e.CertPath, "cert.pem"),
			filepath.Join(e.CertPath, "key.pem"),
		))
	}
	if len(e.Headers) > 0 {
		opts = append(opts, client.WithHTTPHeaders(e.Headers))
	}
	return opts
}

// Env returns the conventional environment variables selecting this
// endpoint, for child processes.
func (e Endpoint) Env() []string {
	env := []string{"DOCKER_HOST=" + e.Host}
	if e.TLSVerify {
		env = append(env, "DOCKER_TLS_VERIFY=1")
	}
	if e.CertPath != "" {
		env = append(env, "DOCKER_CERT_PATH="+e.CertPath)
	}
	return env
}

func (e Endpoint) String() string {
	if e.TLSVerify {
		return e.Host + " (tls: " + e.CertPath + ")"
	}
	return e.Host
}
