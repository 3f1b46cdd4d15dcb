// Package remote implements command execution and file access on managed
// servers over SSH/SFTP.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/opsloom/opsloom/pkg/db"
	"github.com/opsloom/opsloom/pkg/tools"
)

// Executor runs commands on managed servers over SSH. It implements
// tools.Executor and tools.FileProvider.
type Executor struct {
	servers tools.ServerGetter
}

// NewExecutor creates an SSH executor backed by the server store.
func NewExecutor(servers tools.ServerGetter) *Executor {
	return &Executor{servers: servers}
}

// Execute runs one command on the server and captures stdout, stderr and
// the exit code. A non-zero exit is not an error; transport failures are.
func (e *Executor) Execute(ctx context.Context, serverID, command string, timeout time.Duration) (*tools.ExecResult, error) {
	srv, err := e.servers.GetServer(serverID)
	if err != nil {
		return nil, fmt.Errorf("server not found: %s", serverID)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	client, err := connectSSH(srv)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", srv.Name, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		// Closing the session aborts the remote command best-effort.
		_ = session.Close()
		return nil, fmt.Errorf("command timed out on %s: %w", srv.Name, ctx.Err())
	case err = <-done:
	}

	result := &tools.ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, fmt.Errorf("command failed on %s: %w", srv.Name, err)
	}
	return result, nil
}

// OpenSFTP opens an SFTP session to the server. The release function closes
// both the SFTP client and the underlying SSH connection.
func (e *Executor) OpenSFTP(ctx context.Context, serverID string) (*sftp.Client, func(), error) {
	srv, err := e.servers.GetServer(serverID)
	if err != nil {
		return nil, nil, fmt.Errorf("server not found: %s", serverID)
	}

	client, err := connectSSH(srv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", srv.Name, err)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to open sftp session: %w", err)
	}

	release := func() {
		sftpClient.Close()
		client.Close()
	}
	return sftpClient, release, nil
}

// connectSSH creates an SSH client connection using the server's
// configured auth method.
func connectSSH(srv *db.Server) (*ssh.Client, error) {
	var authMethods []ssh.AuthMethod

	switch srv.AuthMethod {
	case db.AuthMethodKey:
		signer, err := ssh.ParsePrivateKey([]byte(srv.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	case db.AuthMethodKeyFile:
		keyData, err := os.ReadFile(srv.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key file: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	default:
		if srv.Password != "" {
			authMethods = append(authMethods, ssh.Password(srv.Password))
		}
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication method available")
	}

	sshConfig := &ssh.ClientConfig{
		User:            srv.User,
		Auth:            authMethods,
		Timeout:         30 * time.Second,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: implement proper host key verification
	}

	port := srv.Port
	if port <= 0 {
		port = 22
	}

	addr := fmt.Sprintf("%s:%d", srv.Host, port)
	client, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	return client, nil
}
