package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

const initTimeout = 2 * time.Minute

// storage-init provisions the board table and the optional board event
// queue before the API starts. Existing resources are left alone.
func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	boardsTable := os.Getenv("BOARDS_TABLE")
	if boardsTable == "" {
		boardsTable = "boards"
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		log.Fatalf("tables: %v", err)
	}
	if err := createTable(ctx, svc.NewClient(boardsTable)); err != nil {
		log.Fatalf("create table %s: %v", boardsTable, err)
	}
	log.WithField("table", boardsTable).Info("table ready")

	if name := os.Getenv("BOARD_EVENTS_QUEUE"); name != "" {
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			log.Fatalf("queue: %v", err)
		}
		if err := createQueue(ctx, q); err != nil {
			log.Fatalf("create queue %s: %v", name, err)
		}
		log.WithField("queue", name).Info("queue ready")
	}

	log.Info("storage init complete")
}

type tableCreator interface {
	CreateTable(ctx context.Context, options *aztables.CreateTableOptions) (aztables.CreateTableResponse, error)
}

type queueCreator interface {
	Create(ctx context.Context, options *azqueue.CreateOptions) (azqueue.CreateResponse, error)
}

func createTable(ctx context.Context, c tableCreator) error {
	if _, err := c.CreateTable(ctx, nil); err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
		return err
	}
	return nil
}

func createQueue(ctx context.Context, q queueCreator) error {
	if _, err := q.Create(ctx, nil); err != nil && !alreadyExists(err, "QueueAlreadyExists") {
		return err
	}
	return nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
