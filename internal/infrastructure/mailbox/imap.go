package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

// IMAPConfig describes the inbox connection. Message ids handed out by the client are IMAP UIDs.
type IMAPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool
	// Window caps how many unseen messages one listing returns.
	Window      int
	DialTimeout time.Duration
}

type IMAPClient struct {
	cfg IMAPConfig
}

func NewIMAPClient(cfg IMAPConfig) *IMAPClient {
	if cfg.Window <= 0 {
		cfg.Window = 50
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	return &IMAPClient{cfg: cfg}
}

// connect dials, authenticates and selects the folder. The connection is closed as soon
// as ctx ends; the caller must call release when done.
func (c *IMAPClient) connect(ctx context.Context, folder string) (*imapclient.Client, func(), error) {
	addr := net.JoinHostPort(c.cfg.Host, c.cfg.Port)

	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, domain.WrapError(domain.ErrTemporary, "connect imap", fmt.Errorf("%s: %w", addr, err))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	tlsConfig := &tls.Config{ServerName: c.cfg.Host}
	var client *imapclient.Client
	if c.cfg.TLS {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			stop()
			_ = conn.Close()
			return nil, nil, domain.WrapError(domain.ErrTemporary, "connect imap", fmt.Errorf("%s tls handshake: %w", addr, err))
		}
		client = imapclient.New(tlsConn, nil)
	} else {
		client, err = imapclient.NewStartTLS(conn, &imapclient.Options{TLSConfig: tlsConfig})
		if err != nil {
			stop()
			_ = conn.Close()
			return nil, nil, domain.WrapError(domain.ErrTemporary, "connect imap", fmt.Errorf("%s starttls: %w", addr, err))
		}
	}
	release := func() {
		stop()
		_ = client.Logout().Wait()
		_ = client.Close()
	}

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		release()
		if ctx.Err() != nil {
			return nil, nil, domain.WrapError(domain.ErrTemporary, "imap login", ctx.Err())
		}
		return nil, nil, domain.WrapError(domain.ErrUnauthorized, "imap login", fmt.Errorf("%s: %w", c.cfg.Username, err))
	}

	if folder == "" {
		folder = "INBOX"
	}
	if _, err := client.Select(folder, nil).Wait(); err != nil {
		release()
		return nil, nil, fmt.Errorf("select %s: %w", folder, err)
	}
	return client, release, nil
}

// ListUnseen returns envelope data for the newest unseen messages.
func (c *IMAPClient) ListUnseen(ctx context.Context, folder string) ([]domain.MessageSummary, error) {
	client, release, err := c.connect(ctx, folder)
	if err != nil {
		return nil, err
	}
	defer release()

	searchData, err := client.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search unseen messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return []domain.MessageSummary{}, nil
	}
	if len(uids) > c.cfg.Window {
		uids = uids[len(uids)-c.cfg.Window:]
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:     true,
		UID:          true,
		InternalDate: true,
	})
	defer fetchCmd.Close()

	summaries := make([]domain.MessageSummary, 0, len(uids))
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		summaries = append(summaries, summaryFromBuffer(buf))
	}
	if err := fetchCmd.Close(); err != nil {
		return summaries, fmt.Errorf("fetch envelopes: %w", err)
	}
	return summaries, nil
}

// FetchRaw returns the full RFC 5322 message without setting \Seen.
func (c *IMAPClient) FetchRaw(ctx context.Context, folder, messageID string) ([]byte, *domain.MessageSummary, error) {
	uid, err := parseUID(messageID)
	if err != nil {
		return nil, nil, err
	}

	client, release, err := c.connect(ctx, folder)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	section := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		Envelope:     true,
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{section},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, nil, domain.WrapError(domain.ErrRecordNotFound, "fetch message", fmt.Errorf("uid %d", uid))
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, nil, fmt.Errorf("collect message %d: %w", uid, err)
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, nil, fmt.Errorf("close fetch: %w", err)
	}

	summary := summaryFromBuffer(buf)
	return buf.FindBodySection(section), &summary, nil
}

func (c *IMAPClient) MarkSeen(ctx context.Context, folder, messageID string) error {
	uid, err := parseUID(messageID)
	if err != nil {
		return err
	}
	client, release, err := c.connect(ctx, folder)
	if err != nil {
		return err
	}
	defer release()

	storeCmd := client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("store seen flag: %w", err)
	}
	return nil
}

// Move files the message into destination and returns its UID there. The UID is only
// known when the server answers with COPYUID (UIDPLUS or IMAP4rev2); otherwise it is "".
func (c *IMAPClient) Move(ctx context.Context, folder, messageID, destination string) (string, error) {
	uid, err := parseUID(messageID)
	if err != nil {
		return "", err
	}
	client, release, err := c.connect(ctx, folder)
	if err != nil {
		return "", err
	}
	defer release()

	data, err := client.Move(imap.UIDSetNum(uid), destination).Wait()
	if err != nil {
		return "", fmt.Errorf("move message to %s: %w", destination, err)
	}
	return destinationUID(data), nil
}

func destinationUID(data *imapclient.MoveData) string {
	if data == nil {
		return ""
	}
	set, ok := data.DestUIDs.(imap.UIDSet)
	if !ok {
		return ""
	}
	uids, ok := set.Nums()
	if !ok || len(uids) != 1 {
		return ""
	}
	return strconv.FormatUint(uint64(uids[0]), 10)
}

func summaryFromBuffer(buf *imapclient.FetchMessageBuffer) domain.MessageSummary {
	summary := domain.MessageSummary{
		ID:         strconv.FormatUint(uint64(buf.UID), 10),
		ReceivedAt: buf.InternalDate,
	}
	if buf.Envelope != nil {
		summary.Subject = buf.Envelope.Subject
		if summary.ReceivedAt.IsZero() {
			summary.ReceivedAt = buf.Envelope.Date
		}
		if len(buf.Envelope.From) > 0 {
			summary.From = buf.Envelope.From[0].Addr()
		}
	}
	return summary
}

func parseUID(messageID string) (imap.UID, error) {
	raw, err := strconv.ParseUint(strings.TrimSpace(messageID), 10, 32)
	if err != nil || raw == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "parse message id", fmt.Errorf("%q is not an imap uid", messageID))
	}
	return imap.UID(raw), nil
}
