// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package grpcgw implements the gateway.API contract over a gRPC connection
// to an NVMe-oF gateway daemon.
package grpcgw

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/antimetal/nvmeof-top/pkg/gateway"
)

// Gateway RPC method names, matching the daemon's service definition.
const (
	methodGatewayInfo       = "/nvmeof.Gateway/get_gateway_info"
	methodListSubsystems    = "/nvmeof.Gateway/list_subsystems"
	methodListNamespaces    = "/nvmeof.Gateway/list_namespaces"
	methodNamespacesIOStats = "/nvmeof.Gateway/list_namespaces_io_stats"
	methodThreadStats       = "/nvmeof.Gateway/get_thread_stats"
)

const (
	defaultCallTimeout = 10 * time.Second
	defaultKeepalive   = 30 * time.Second
)

type options struct {
	addr        string
	daemonName  string
	serviceName string
	secure      bool
	keepalive   time.Duration
	callTimeout time.Duration
	logger      logr.Logger
}

type Option func(*options)

func Addr(a string) Option {
	return func(o *options) {
		o.addr = a
	}
}

func DaemonName(n string) Option {
	return func(o *options) {
		o.daemonName = n
	}
}

func ServiceName(s string) Option {
	return func(o *options) {
		o.serviceName = s
	}
}

func Secure(s bool) Option {
	return func(o *options) {
		o.secure = s
	}
}

func Keepalive(k time.Duration) Option {
	return func(o *options) {
		o.keepalive = k
	}
}

func CallTimeout(t time.Duration) Option {
	return func(o *options) {
		o.callTimeout = t
	}
}

func Logger(l logr.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Client is a gateway.API implementation bound to one gateway endpoint. A
// Client owns a single grpc.ClientConn and is safe for reuse across polls.
type Client struct {
	conn        *grpc.ClientConn
	addr        string
	daemonName  string
	serviceName string
	callTimeout time.Duration
	logger      logr.Logger
}

var _ gateway.API = (*Client)(nil)

// New dials the gateway endpoint. Dialing is lazy; connectivity errors
// surface on the first call.
func New(opts ...Option) (*Client, error) {
	o := &options{
		keepalive:   defaultKeepalive,
		callTimeout: defaultCallTimeout,
		logger:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.addr == "" {
		return nil, fmt.Errorf("gateway address is required")
	}

	var creds credentials.TransportCredentials
	if o.secure {
		creds = credentials.NewTLS(&tls.Config{})
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(o.addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time: o.keepalive,
		}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway connection to %s: %w", o.addr, err)
	}

	return &Client{
		conn:        conn,
		addr:        o.addr,
		daemonName:  o.daemonName,
		serviceName: o.serviceName,
		callTimeout: o.callTimeout,
		logger:      o.logger.WithName("gateway").WithValues("addr", o.addr),
	}, nil
}

func (c *Client) Addr() string        { return c.addr }
func (c *Client) DaemonName() string  { return c.daemonName }
func (c *Client) ServiceName() string { return c.serviceName }

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	c.logger.V(1).Info("invoking gateway method", "method", method)
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return fmt.Errorf("gateway call %s failed: %w", method, err)
	}
	return nil
}

func (c *Client) Info(ctx context.Context) (*gateway.Info, error) {
	resp := &gateway.Info{}
	if err := c.invoke(ctx, methodGatewayInfo, struct{}{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Subsystems(ctx context.Context) (*gateway.SubsystemList, error) {
	resp := &gateway.SubsystemList{}
	if err := c.invoke(ctx, methodListSubsystems, struct{}{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Namespaces(ctx context.Context, nqn string) (*gateway.NamespaceList, error) {
	req := struct {
		Subsystem string `json:"subsystem"`
	}{Subsystem: nqn}

	resp := &gateway.NamespaceList{}
	if err := c.invoke(ctx, methodListNamespaces, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) NamespaceIOStats(ctx context.Context) (*gateway.NamespaceIOStats, error) {
	resp := &gateway.NamespaceIOStats{}
	if err := c.invoke(ctx, methodNamespacesIOStats, struct{}{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) ThreadStats(ctx context.Context) (*gateway.ThreadStats, error) {
	resp := &gateway.ThreadStats{}
	if err := c.invoke(ctx, methodThreadStats, struct{}{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
