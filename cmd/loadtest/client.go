package main

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	grpcsvc "github.com/vladislavdragonenkov/commerce/internal/service/grpc"
)

const (
	idempotencyHeader = "idempotency-key"
	actorIDHeader     = "x-actor-id"
	actorRoleHeader   = "x-actor-role"
	roleOperator      = "operator"
)

// identity — от чьего имени выполняется вызов.
type identity struct {
	actorID  string
	operator bool
}

var operatorIdentity = identity{actorID: "loadtest-operator", operator: true}

// commerceClient — минимальный клиент commerce.v1.Commerce.
type commerceClient interface {
	Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
}

// caller оборачивает клиент таймаутом, метаданными и сбором статистики.
type caller struct {
	client    commerceClient
	timeout   time.Duration
	collector *collector
}

func (c caller) call(who identity, method, key string, req, resp any) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	pairs := []string{actorIDHeader, who.actorID}
	if who.operator {
		pairs = append(pairs, actorRoleHeader, roleOperator)
	}
	if key != "" {
		pairs = append(pairs, idempotencyHeader, key)
	}
	ctx = metadata.AppendToOutgoingContext(ctx, pairs...)

	err := c.client.Invoke(ctx, grpcsvc.FullMethod(method), req, resp, grpc.CallContentSubtype(grpcsvc.CodecName))
	if c.collector != nil {
		c.collector.record(method, time.Since(start), grpcCode(err))
	}
	return err
}

func dialConnections(addr string, count int) ([]*grpc.ClientConn, error) {
	conns := make([]*grpc.ClientConn, 0, count)
	for i := 0; i < count; i++ {
		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			closeConnections(conns)
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func closeConnections(conns []*grpc.ClientConn) {
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}
