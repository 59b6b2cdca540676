package muclient

import (
	"context"
	"fmt"

	"github.com/function61/gokit/ezhttp"
	"github.com/muisto-app/muisto/pkg/muserver"
	"github.com/muisto-app/muisto/pkg/mutypes"
)

func fetchStatus(ctx context.Context, conf *ClientConfig) (*muserver.StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, ezhttp.DefaultTimeout10s)
	defer cancel()

	status := &muserver.StatusResponse{}
	if _, err := ezhttp.Get(
		ctx,
		conf.ServerAddr+"/api/status",
		ezhttp.RespondsJson(status, false),
	); err != nil {
		return nil, fmt.Errorf("status: %v", err)
	}

	return status, nil
}

func fetchQueue(ctx context.Context, conf *ClientConfig) ([]mutypes.SyncQueueItem, error) {
	ctx, cancel := context.WithTimeout(ctx, ezhttp.DefaultTimeout10s)
	defer cancel()

	items := []mutypes.SyncQueueItem{}
	if _, err := ezhttp.Get(
		ctx,
		conf.ServerAddr+"/api/queue",
		ezhttp.RespondsJson(&items, false),
	); err != nil {
		return nil, fmt.Errorf("queue: %v", err)
	}

	return items, nil
}

func fetchConnections(ctx context.Context, conf *ClientConfig) ([]mutypes.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, ezhttp.DefaultTimeout10s)
	defer cancel()

	connections := []mutypes.Connection{}
	if _, err := ezhttp.Get(
		ctx,
		conf.ServerAddr+"/api/connections",
		ezhttp.RespondsJson(&connections, false),
	); err != nil {
		return nil, fmt.Errorf("connections: %v", err)
	}

	return connections, nil
}

func postNoBody(ctx context.Context, conf *ClientConfig, path string) error {
	ctx, cancel := context.WithTimeout(ctx, ezhttp.DefaultTimeout10s)
	defer cancel()

	if _, err := ezhttp.Post(ctx, conf.ServerAddr+path); err != nil {
		return fmt.Errorf("%s: %v", path, err)
	}

	return nil
}

func del(ctx context.Context, conf *ClientConfig, path string) error {
	ctx, cancel := context.WithTimeout(ctx, ezhttp.DefaultTimeout10s)
	defer cancel()

	if _, err := ezhttp.Del(ctx, conf.ServerAddr+path); err != nil {
		return fmt.Errorf("%s: %v", path, err)
	}

	return nil
}
