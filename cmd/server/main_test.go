package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/keyspace"
	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/recovery"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/proto"
)

func startRPC(t *testing.T) *grpc.Client {
	t.Helper()
	svc, err := recovery.NewService(config.RecoveryConfig{Alphabet: keyspace.Lower, MaxKeyLength: 2, Shards: 2})
	if err != nil {
		t.Fatal(err)
	}
	s := newRPCServer(svc, health.NewChecker(time.Second))
	addr, err := s.Listen("127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on loopback: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c, err := grpc.Dial(context.Background(), addr.String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRPCRecover(t *testing.T) {
	c := startRPC(t)
	sum := sha256.Sum256([]byte("ox"))
	var resp proto.RecoverResponse
	err := c.Call(context.Background(), proto.MethodRecover, &proto.RecoverRequest{Hash: hex.EncodeToString(sum[:]), Algorithm: "sha256"}, &resp)
	if err != nil {
		t.Fatal(err)
	}
	if resp.State != "found" || resp.Secret != "ox" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestRPCMalformedRequestIsInvalidArguments(t *testing.T) {
	c := startRPC(t)
	var resp proto.RecoverResponse
	err := c.Call(context.Background(), proto.MethodRecover, "not an object", &resp)
	if !errors.Is(err, apperrors.ErrInvalidArguments) {
		t.Fatalf("err = %v, want ErrInvalidArguments", err)
	}
	if apperrors.Code(err) != "invalid_arguments" {
		t.Errorf("code = %q", apperrors.Code(err))
	}
}

func TestRPCHealthAndAlgorithms(t *testing.T) {
	c := startRPC(t)
	var hc proto.HealthCheckResponse
	if err := c.Call(context.Background(), proto.MethodHealth, struct{}{}, &hc); err != nil {
		t.Fatal(err)
	}
	if hc.Status != "SERVING" {
		t.Errorf("health = %q, want SERVING", hc.Status)
	}
	var algs proto.AlgorithmsResponse
	if err := c.Call(context.Background(), proto.MethodAlgorithms, struct{}{}, &algs); err != nil {
		t.Fatal(err)
	}
	if len(algs.Algorithms) == 0 {
		t.Error("no algorithms listed")
	}
}
