package fetch

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPFetcher implements Fetcher for ftp:// URLs using anonymous login.
type FTPFetcher struct {
	timeout time.Duration
}

// NewFTPFetcher creates an FTPFetcher with the given dial timeout.
func NewFTPFetcher(timeout time.Duration) *FTPFetcher {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &FTPFetcher{timeout: timeout}
}

// ftpBody closes the control connection when the caller closes the
// response stream.
type ftpBody struct {
	io.ReadCloser
	conn *ftp.ServerConn
}

func (b *ftpBody) Close() error {
	err := b.ReadCloser.Close()
	if qerr := b.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}

// Fetch implements Fetcher.
func (f *FTPFetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: parse url %s", rawURL)
	}
	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}

	conn, err := ftp.Dial(host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(f.timeout))
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: dial ftp %s", host)
	}
	if err := conn.Login("anonymous", "anonymous"); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "fetch: ftp login %s", host)
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "fetch: ftp retr %s", u.Path)
	}

	zap.L().Debug("fetch: ftp stream open", zap.String("host", host), zap.String("path", u.Path))
	return &ftpBody{ReadCloser: resp, conn: conn}, nil
}
