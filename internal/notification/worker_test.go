package notification

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"station-booking-backend/internal/model"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	require.NoError(t, db.AutoMigrate(&model.Machine{}, &model.PushSubscription{}))
	return db
}

func TestWorkerPool_Dispatch(t *testing.T) {
	db := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{})

	wp.Dispatch(123)

	select {
	case job := <-wp.jobs:
		assert.Equal(t, int64(123), job)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestWorkerPool_DispatchDropsWhenFull(t *testing.T) {
	db := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{})

	// No workers running: the buffered queue holds one job, the second must
	// be dropped rather than blocking the caller.
	wp.Dispatch(1)
	done := make(chan struct{})
	go func() {
		wp.Dispatch(2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}
}

func TestWorkerPool_WorkerLogic(t *testing.T) {
	t.Run("sends notification for one subscription", func(t *testing.T) {
		db := newTestDB(t)
		wp := NewWorkerPool(1, db, &webpush.Options{})

		machine := model.Machine{ID: 101, Name: "PS5-01", Type: "console", Status: model.MachineAvailable}
		require.NoError(t, db.Create(&machine).Error)
		require.NoError(t, db.Create(&model.PushSubscription{
			Endpoint: "https://example.com/push",
			P256DH:   "test_p256dh",
			Auth:     "test_auth",
			Machines: []*model.Machine{&machine},
		}).Error)

		var wg sync.WaitGroup
		wg.Add(1)
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				assert.Equal(t, "https://example.com/push", sub.Endpoint)
				assert.Equal(t, "Station PS5-01 is free!", string(payload))
				wg.Done()
				return &http.Response{
					StatusCode: http.StatusCreated,
					Body:       io.NopCloser(bytes.NewBufferString("")),
				}, nil
			},
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		wp.Start(ctx)

		wp.Dispatch(101)
		wg.Wait()
	})

	t.Run("deletes expired subscription", func(t *testing.T) {
		db := newTestDB(t)
		wp := NewWorkerPool(1, db, &webpush.Options{})

		machine := model.Machine{ID: 102, Name: "PS5-02", Type: "console", Status: model.MachineAvailable}
		require.NoError(t, db.Create(&machine).Error)
		require.NoError(t, db.Create(&model.PushSubscription{
			Endpoint: "https://example.com/expired",
			P256DH:   "test_p256dh_expired",
			Auth:     "test_auth_expired",
			Machines: []*model.Machine{&machine},
		}).Error)

		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				return &http.Response{
					StatusCode: http.StatusGone,
					Body:       io.NopCloser(bytes.NewBufferString("")),
				}, nil
			},
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		wp.Start(ctx)

		wp.Dispatch(102)

		assert.Eventually(t, func() bool {
			var count int64
			db.Model(&model.PushSubscription{}).Where("endpoint = ?", "https://example.com/expired").Count(&count)
			return count == 0
		}, 2*time.Second, 20*time.Millisecond, "expired subscription should be deleted")
	})

	t.Run("no subscriptions is a quiet no-op", func(t *testing.T) {
		db := newTestDB(t)
		wp := NewWorkerPool(1, db, &webpush.Options{})

		called := false
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				called = true
				return nil, nil
			},
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		wp.Start(ctx)

		wp.Dispatch(999)
		time.Sleep(100 * time.Millisecond)
		assert.False(t, called)
	})
}
