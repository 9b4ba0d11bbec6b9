package ssevents

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdStore keeps values in etcd v3 under a key prefix, e.g.
//
//	/ssevents/replay_timestamp
type EtcdStore struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdStore connects to the given etcd endpoints.
func NewEtcdStore(endpoints []string, prefix string) (*EtcdStore, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd connect: %w", err)
	}
	if prefix == "" {
		prefix = "/ssevents/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &EtcdStore{client: c, prefix: prefix}, nil
}

func (s *EtcdStore) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := s.client.Get(ctx, s.prefix+key)
	if err != nil {
		return "", false, fmt.Errorf("etcd get %s: %w", s.prefix+key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

func (s *EtcdStore) Put(ctx context.Context, key, value string) error {
	if _, err := s.client.Put(ctx, s.prefix+key, value); err != nil {
		return fmt.Errorf("etcd put %s: %w", s.prefix+key, err)
	}
	return nil
}

func (s *EtcdStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Delete(ctx, s.prefix+key); err != nil {
		return fmt.Errorf("etcd delete %s: %w", s.prefix+key, err)
	}
	return nil
}

// Close closes the etcd client.
func (s *EtcdStore) Close() error { return s.client.Close() }
