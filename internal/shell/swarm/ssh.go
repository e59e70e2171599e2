package swarm

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/client"
	"golang.org/x/crypto/ssh"
)

// defaultRemoteSocket is the daemon socket used on the remote host when the
// ssh:// URL carries no path.
const defaultRemoteSocket = "/var/run/docker.sock"

// sshClientOpts builds docker client options that tunnel the API over SSH.
// The docker CLI shells out to openssh for ssh:// hosts; this keeps the
// tunnel in-process, dialing the remote daemon socket through the SSH
// connection.
func sshClientOpts(cfg ClientConfig) ([]client.Opt, *ssh.Client, error) {
	u, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, nil, fmt.Errorf("parse docker host: %w", err)
	}

	user := u.User.Username()
	if user == "" {
		user = "root"
	}
	port := u.Port()
	if port == "" {
		port = "22"
	}
	addr := net.JoinHostPort(u.Hostname(), port)

	keyPath := cfg.SSHKeyPath
	if keyPath == "" {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return nil, nil, fmt.Errorf("resolve SSH key path: %w", homeErr)
		}
		keyPath = filepath.Join(home, ".ssh", "id_rsa")
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read SSH private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, nil, fmt.Errorf("parse SSH private key: %w", err)
	}

	timeout := cfg.SSHTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	sshConfig := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: Store and verify host keys
		Timeout:         timeout,
	}

	sshClient, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}

	socket := u.Path
	if socket == "" {
		socket = defaultRemoteSocket
	}

	dialer := func(ctx context.Context, network, address string) (net.Conn, error) {
		return sshClient.DialContext(ctx, "unix", socket)
	}

	opts := []client.Opt{
		client.WithHTTPClient(&http.Client{
			Transport: &http.Transport{DialContext: dialer},
		}),
		// Dummy host, the dialer above decides where connections go
		client.WithHost("http://docker.example.com"),
		client.WithDialContext(dialer),
	}
	return opts, sshClient, nil
}
