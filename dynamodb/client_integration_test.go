//go:build integration

package dynamodb_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/msam-go/msam/dynamodb"
	"github.com/msam-go/msam/types"
	"github.com/msam-go/msam/types/storetests"
)

var client *dynamodb.Client

func TestMain(m *testing.M) {
	ctx := context.Background()

	region := os.Getenv("AWS_REGION")
	alarmsTable := os.Getenv("DYNAMODB_ALARMS_TABLE")
	cacheTable := os.Getenv("DYNAMODB_CACHE_TABLE")

	if region == "" || alarmsTable == "" || cacheTable == "" {
		fmt.Fprintln(os.Stderr, "AWS_REGION, DYNAMODB_ALARMS_TABLE and DYNAMODB_CACHE_TABLE environment variables must be set for integration tests")
		os.Exit(1)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	c := dynamodb.New(&awsCfg, alarmsTable, cacheTable, dynamodb.WithCacheTimeToLive(time.Minute))

	var _ types.SubscriptionIndex = c
	var _ types.ResourceStore = c

	if err := c.Connect(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := c.Init(ctx, false); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	client = c

	os.Exit(m.Run())
}

func reset(t *testing.T) {
	t.Helper()

	if err := client.DropAllData(context.Background()); err != nil {
		t.Fatalf("failed to delete all items: %v", err)
	}
}

func TestSubscribeAndList(t *testing.T) {
	reset(t)
	storetests.TestSubscribeAndList(t, client)
}

func TestUpdateState(t *testing.T) {
	reset(t)
	storetests.TestUpdateState(t, client)
}

func TestListAlarmsAndDeleteAll(t *testing.T) {
	reset(t)
	storetests.TestListAlarmsAndDeleteAll(t, client)
}

func TestResourceCRUD(t *testing.T) {
	reset(t)
	storetests.TestResourceCRUD(t, client)
}
