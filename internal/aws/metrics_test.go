package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
)

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCount(t *testing.T) {
	fake := &fakeCloudWatch{}
	m := NewMetricsRecorder(fake)

	m.Count(context.Background(), "SettlementsApplied", 1, map[string]string{"env": "test"})

	if len(fake.inputs) != 1 {
		t.Fatalf("expected 1 put, got %d", len(fake.inputs))
	}
	in := fake.inputs[0]
	if *in.Namespace != metricsNamespace {
		t.Fatalf("namespace = %s", *in.Namespace)
	}
	if len(in.MetricData) != 1 || *in.MetricData[0].MetricName != "SettlementsApplied" {
		t.Fatalf("unexpected datum: %+v", in.MetricData)
	}
	if len(in.MetricData[0].Dimensions) != 1 {
		t.Fatalf("expected 1 dimension, got %d", len(in.MetricData[0].Dimensions))
	}
}

func TestCount_NilClientIsNoOp(t *testing.T) {
	m := NewMetricsRecorder(nil)
	// must not panic
	m.Count(context.Background(), "Anything", 1, nil)
}

func TestCount_SwallowsErrors(t *testing.T) {
	fake := &fakeCloudWatch{err: errors.New("throttled")}
	m := NewMetricsRecorder(fake)
	// best effort: no panic, nothing to assert beyond the call surviving
	m.Count(context.Background(), "SettlementsApplied", 1, nil)
}
