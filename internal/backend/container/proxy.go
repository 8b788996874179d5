package container

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"github.com/seantiz/fnworker/internal/backend"
	"github.com/seantiz/fnworker/internal/model"
)

const readyPollInterval = 50 * time.Millisecond

// zipMagic prefixes zip archives, which the action proxy expects base64
// encoded with the binary flag set.
var zipMagic = []byte("PK\x03\x04")

// actionProxy talks to the OpenWhisk action proxy that runtime images serve
// on the well-known port.
type actionProxy struct {
	client       *resty.Client
	readyTimeout time.Duration
}

func newActionProxy(timeout, readyTimeout time.Duration) *actionProxy {
	return &actionProxy{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		readyTimeout: readyTimeout,
	}
}

type initRequest struct {
	Value initValue `json:"value"`
}

type initValue struct {
	Name   string `json:"name"`
	Main   string `json:"main"`
	Code   string `json:"code"`
	Binary bool   `json:"binary"`
}

type runRequest struct {
	Value json.RawMessage `json:"value"`
}

func (ep Endpoint) url(path string) string {
	return "http://" + net.JoinHostPort(ep.Host, ep.Port) + path
}

// Init waits for the proxy to accept connections, then loads fn's code.
func (p *actionProxy) Init(ctx context.Context, ep Endpoint, fn model.Function) error {
	err := p.init(ctx, ep, fn)
	observeOp(opInit, err)
	return err
}

func (p *actionProxy) init(ctx context.Context, ep Endpoint, fn model.Function) error {
	if err := p.waitReady(ctx, ep); err != nil {
		return err
	}

	code, binary := encodeCode(fn.Code)
	main := fn.Main
	if main == "" {
		main = "main"
	}
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(initRequest{Value: initValue{
			Name:   fn.Name,
			Main:   main,
			Code:   code,
			Binary: binary,
		}}).
		Post(ep.url("/init"))
	if err != nil {
		return proxyError(err, "init action "+fn.Name)
	}
	if resp.IsError() {
		return &backend.Error{
			Kind:       backend.KindAction,
			StatusCode: resp.StatusCode(),
			Message:    "init action " + fn.Name,
			Output:     resp.Body(),
		}
	}
	return nil
}

// Run posts args to the proxy and returns the action result body.
func (p *actionProxy) Run(ctx context.Context, ep Endpoint, args []byte) ([]byte, error) {
	start := time.Now()
	out, err := p.run(ctx, ep, args)
	actionDuration.Observe(time.Since(start).Seconds())
	observeOp(opRun, err)
	return out, err
}

func (p *actionProxy) run(ctx context.Context, ep Endpoint, args []byte) ([]byte, error) {
	value := bytes.TrimSpace(args)
	if len(value) == 0 {
		value = []byte("{}")
	}
	if !json.Valid(value) {
		return nil, backend.Errorf(backend.KindInvalidRequest, nil, "action arguments are not valid JSON")
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(runRequest{Value: value}).
		Post(ep.url("/run"))
	if err != nil {
		return nil, proxyError(err, "run action at "+ep.url(""))
	}
	if resp.IsError() {
		return nil, &backend.Error{
			Kind:       backend.KindAction,
			StatusCode: resp.StatusCode(),
			Message:    "run action at " + ep.url(""),
			Output:     resp.Body(),
		}
	}
	return resp.Body(), nil
}

// waitReady polls the endpoint until a TCP connection succeeds.
func (p *actionProxy) waitReady(ctx context.Context, ep Endpoint) error {
	ctx, cancel := context.WithTimeout(ctx, p.readyTimeout)
	defer cancel()

	addr := net.JoinHostPort(ep.Host, ep.Port)
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return backend.Errorf(backend.KindTimeout, err,
				fmt.Sprintf("action proxy at %s not ready after %s", addr, p.readyTimeout))
		case <-time.After(readyPollInterval):
		}
	}
}

func proxyError(err error, message string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return backend.Errorf(backend.KindTimeout, err, message)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return backend.Errorf(backend.KindTimeout, err, message)
	}
	return backend.Errorf(backend.KindConnectionUnavailable, err, message)
}

// encodeCode returns source text as is and anything else base64 encoded.
func encodeCode(code []byte) (string, bool) {
	if utf8.Valid(code) && !bytes.HasPrefix(code, zipMagic) {
		return string(code), false
	}
	return base64.StdEncoding.EncodeToString(code), true
}
