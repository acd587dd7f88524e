package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "speech-tone-service/internal/api/grpc"
	"speech-tone-service/internal/models"
	"speech-tone-service/internal/service/source/mock"
)

func main() {
	addr := flag.String("addr", "localhost:50051", "tone service gRPC address")
	count := flag.Int("n", 3, "number of utterances to send")
	delay := flag.Duration("delay", 100*time.Millisecond, "pause between messages")
	flag.Parse()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("Connected to server")

	client := grpcapi.NewToneServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stream, err := client.Refine(ctx)
	if err != nil {
		log.Fatalf("failed to create stream: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msg, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				log.Printf("receive failed: %v", err)
				return
			}
			if msg.Event == models.EventFinal {
				log.Printf("FINAL   id=%s text=%q", msg.ID, msg.Text)
			} else {
				log.Printf("PREVIEW id=%s chunk=%d text=%q", msg.ID, msg.ChunkIndex, msg.Text)
			}
		}
	}()

	source := mock.New(mock.WithDelay(*delay))
	for i := 0; i < *count; i++ {
		id := uuid.NewString()
		err := source.Stream(ctx, id, func(msg models.Message) error {
			log.Printf("Sending %s id=%s chunk=%d", msg.Event, msg.ID, msg.ChunkIndex)
			return stream.Send(&msg)
		})
		if err != nil {
			log.Fatalf("failed to send utterance: %v", err)
		}
	}

	if err := stream.CloseSend(); err != nil {
		log.Fatalf("failed to close stream: %v", err)
	}
	<-done
}
