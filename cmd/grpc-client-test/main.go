package main

import (
	"context"
	"flag"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	handler_grpc "github.com/mubaid99/payments/internal/handler/grpc"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:50051", "payment-server gRPC address")
	to := flag.String("to", "0x000000000000000000000000000000000000dEaD", "destination address")
	flag.Parse()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("did not connect: %v", err)
	}
	defer conn.Close()
	c := handler_grpc.NewPaymentServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Test 1: 创建原生币意图
	req, _ := structpb.NewStruct(map[string]interface{}{
		"blockchain": "sepolia",
		"toAddress":  *to,
		"coinName":   "ETH",
		"amount":     "0.01",
		"clientId":   "grpc-client-test",
	})
	created, err := c.CreateIntent(ctx, req)
	if err != nil {
		log.Fatalf("could not create intent: %v", err)
	}
	id := created.Fields["id"].GetStringValue()
	log.Printf("Intent: %s URI: %s", id, created.Fields["uri"].GetStringValue())

	// Test 2: 查询状态
	got, err := c.GetIntent(ctx, id)
	if err != nil {
		log.Fatalf("could not get intent: %v", err)
	}
	log.Printf("Status: %s", got.Fields["status"].GetStringValue())

	// Test 3: 地址上的入账
	listReq, _ := structpb.NewStruct(map[string]interface{}{"address": *to, "limit": 5})
	list, err := c.ListTransfers(ctx, listReq)
	if err != nil {
		log.Fatalf("could not list transfers: %v", err)
	}
	log.Printf("Transfers: %d", len(list.GetValues()))
}
