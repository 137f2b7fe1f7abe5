package clickhouse

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	defaultNativePort = "9000"
	dialTimeout       = 5 * time.Second
)

// Conn wraps clickhouse driver.Conn for dependency injection.
type Conn struct {
	driver.Conn
}

// NewConn connects to the database named in dsn.
func NewConn(ctx context.Context, dsn string) (*Conn, error) {
	opts, err := options(dsn)
	if err != nil {
		return nil, err
	}
	return open(ctx, opts)
}

// NewConnWithDatabase connects to dsn but targets database instead.
// An empty database connects to the server default (used to CREATE DATABASE).
func NewConnWithDatabase(ctx context.Context, dsn, database string) (*Conn, error) {
	opts, err := options(dsn)
	if err != nil {
		return nil, err
	}
	opts.Auth.Database = database
	return open(ctx, opts)
}

// options parses dsn with the driver's own parser and applies the grid sink
// defaults: LZ4 batches, a short dial timeout, native port when omitted.
func options(dsn string) (*clickhouse.Options, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	for i, addr := range opts.Addr {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			opts.Addr[i] = net.JoinHostPort(addr, defaultNativePort)
		}
	}
	if opts.Compression == nil {
		opts.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = dialTimeout
	}
	return opts, nil
}

func open(ctx context.Context, opts *clickhouse.Options) (*Conn, error) {
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse %v: %w", opts.Addr, err)
	}
	return &Conn{Conn: conn}, nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.Conn.Close()
}
