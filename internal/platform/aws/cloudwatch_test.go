package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestDeadLetterMetrics_PublishesDatum(t *testing.T) {
	client := &fakeCloudWatch{}
	observer := NewDeadLetterMetrics(client, "", nil)

	failedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	observer.OnDeadLetter(context.Background(), domain.DeadLetterEntry{
		Job:       domain.Job{ID: "job-1", Type: domain.JobSendNotification},
		LastError: "smtp down",
		FailedAt:  failedAt,
	})

	if len(client.inputs) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(client.inputs))
	}
	input := client.inputs[0]
	if sdkaws.ToString(input.Namespace) != DefaultMetricNamespace {
		t.Fatalf("unexpected namespace %q", sdkaws.ToString(input.Namespace))
	}
	datum := input.MetricData[0]
	if sdkaws.ToString(datum.MetricName) != deadLetterMetricName {
		t.Fatalf("unexpected metric name %q", sdkaws.ToString(datum.MetricName))
	}
	if len(datum.Dimensions) != 1 || sdkaws.ToString(datum.Dimensions[0].Value) != string(domain.JobSendNotification) {
		t.Fatalf("unexpected dimensions %+v", datum.Dimensions)
	}
	if !sdkaws.ToTime(datum.Timestamp).Equal(failedAt) || sdkaws.ToFloat64(datum.Value) != 1 {
		t.Fatalf("unexpected datum %+v", datum)
	}
}

func TestDeadLetterMetrics_ErrorIsSwallowed(t *testing.T) {
	client := &fakeCloudWatch{err: errors.New("throttled")}
	observer := NewDeadLetterMetrics(client, "Custom/NS", nil)

	observer.OnDeadLetter(context.Background(), domain.DeadLetterEntry{Job: domain.Job{ID: "job-2", Type: domain.JobRenderPrint}})

	if len(client.inputs) != 1 || sdkaws.ToString(client.inputs[0].Namespace) != "Custom/NS" {
		t.Fatalf("unexpected calls %+v", client.inputs)
	}
	if client.inputs[0].MetricData[0].Timestamp == nil {
		t.Fatal("zero FailedAt must be replaced with current time")
	}
}
