package queue

import (
	"context"
	"testing"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/config"
	"github.com/Combine-Capital/cqsync/pkg/errors"
)

func TestPolicyFromDefaults(t *testing.T) {
	p := PolicyFrom(config.QueueConfig{})
	if p.Attempts != 3 || p.Backoff != time.Second || p.FailedLimit != 500 || p.MaxStalled != 1 {
		t.Errorf("PolicyFrom(zero) = %+v", p)
	}
}

func TestPolicyDecide(t *testing.T) {
	p := Policy{Attempts: 3, Backoff: time.Second, FailedLimit: 10}
	temp := errors.NewTemporary("unavailable", nil)

	tests := []struct {
		name    string
		attempt int
		cause   error
		want    Outcome
	}{
		{"first attempt", 1, temp, Outcome{Delay: time.Second}},
		{"second attempt", 2, temp, Outcome{Delay: 2 * time.Second}},
		{"last attempt", 3, temp, Outcome{Dead: true}},
		{"permanent", 1, errors.NewPermanent("rejected", nil), Outcome{Dead: true}},
		{"invalid input", 1, errors.NewInvalidInput("id", "empty"), Outcome{Dead: true}},
		{"plain error", 1, errors.New("boom"), Outcome{Delay: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.decide(Job{Attempt: tt.attempt}, tt.cause); got != tt.want {
				t.Errorf("decide() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestJobValidateAndDecode(t *testing.T) {
	job := Job{ID: "j1", Action: ActionUpdate, EntityType: "Player", EntityID: "p1", Attempt: 2}
	data, err := encodeJob(job)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeJob(data)
	if err != nil {
		t.Fatalf("decodeJob() error = %v", err)
	}
	if got.ID != "j1" || got.Attempt != 2 || got.EntityID != "p1" {
		t.Errorf("decodeJob() = %+v", got)
	}

	if _, err := decodeJob([]byte("not msgpack")); !errors.IsPermanent(err) {
		t.Errorf("decodeJob(garbage) error = %v, want permanent", err)
	}

	bad, _ := encodeJob(Job{ID: "j2", Action: "rebuild", EntityType: "Player", EntityID: "p1"})
	if _, err := decodeJob(bad); !errors.IsPermanent(err) {
		t.Errorf("decodeJob(bad action) error = %v, want permanent", err)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	if _, err := New(context.Background(), config.QueueConfig{Backend: "kafka"}, nil, nil); !errors.IsInvalidInput(err) {
		t.Errorf("New(kafka) error = %v, want invalid input", err)
	}
	if _, err := New(context.Background(), config.QueueConfig{Backend: "redis"}, nil, nil); !errors.IsInvalidInput(err) {
		t.Errorf("New(redis, no pool) error = %v, want invalid input", err)
	}
}
