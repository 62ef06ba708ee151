package smb

import (
	"context"
	"io"
	"io/fs"
	"net"
	"time"

	"github.com/hirochachacha/go-smb2"

	"github.com/veranemoloko/romfetch/internal/domain"
)

const defaultPort = "445"

func dialShare(timeout time.Duration) mountFunc {
	return func(ctx context.Context, server, share string, creds *domain.Credentials) (shareFS, func(), error) {
		addr := server
		if _, _, err := net.SplitHostPort(server); err != nil {
			addr = net.JoinHostPort(server, defaultPort)
		}

		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, nil, err
		}

		dialer := &smb2.Dialer{Initiator: initiator(creds)}
		session, err := dialer.DialContext(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}

		mounted, err := session.Mount(share)
		if err != nil {
			_ = session.Logoff()
			conn.Close()
			return nil, nil, err
		}
		mounted = mounted.WithContext(ctx)

		release := func() {
			_ = mounted.Umount()
			_ = session.Logoff()
			conn.Close()
		}
		return &smb2Share{share: mounted}, release, nil
	}
}

func initiator(creds *domain.Credentials) *smb2.NTLMInitiator {
	if creds == nil || creds.Username == "" {
		return &smb2.NTLMInitiator{User: "Guest"}
	}
	return &smb2.NTLMInitiator{
		User:     creds.Username,
		Password: creds.Password,
		Domain:   creds.Domain,
	}
}

type smb2Share struct {
	share *smb2.Share
}

func (s *smb2Share) ReadDir(dir string) ([]fs.FileInfo, error) {
	return s.share.ReadDir(dir)
}

func (s *smb2Share) Stat(name string) (fs.FileInfo, error) {
	return s.share.Stat(name)
}

func (s *smb2Share) Open(name string) (io.ReadCloser, error) {
	f, err := s.share.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *smb2Share) Create(name string) (io.WriteCloser, error) {
	f, err := s.share.Create(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *smb2Share) MkdirAll(dir string) error {
	return s.share.MkdirAll(dir, 0o755)
}

func (s *smb2Share) Rename(oldpath, newpath string) error {
	return s.share.Rename(oldpath, newpath)
}

func (s *smb2Share) Remove(name string) error {
	return s.share.Remove(name)
}
