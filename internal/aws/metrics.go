package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sirupsen/logrus"
)

const metricsNamespace = "ShambaDirect/Marketplace"

// MetricsRecorder publishes business counters to CloudWatch.
// All calls are best effort: a metrics failure is logged and swallowed,
// it must never fail the money path.
type MetricsRecorder struct {
	CloudWatch CloudWatchAPI
	log        *logrus.Entry
}

// NewMetricsRecorder returns a recorder bound to a CloudWatch client.
// cw may be nil, in which case Count is a no-op (local runs).
func NewMetricsRecorder(cw CloudWatchAPI) *MetricsRecorder {
	return &MetricsRecorder{
		CloudWatch: cw,
		log:        logrus.WithField("component", "metrics"),
	}
}

// Count emits a single count metric with optional dimensions.
func (m *MetricsRecorder) Count(ctx context.Context, name string, value float64, dims map[string]string) {
	if m == nil || m.CloudWatch == nil {
		return
	}

	datum := cwtypes.MetricDatum{
		MetricName: &name,
		Value:      &value,
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  awsTime(time.Now().UTC()),
	}
	for k, v := range dims {
		datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{
			Name:  awsString(k),
			Value: awsString(v),
		})
	}

	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := m.CloudWatch.PutMetricData(cctx, &cloudwatch.PutMetricDataInput{
		Namespace:  awsString(metricsNamespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		m.log.WithError(err).WithField("metric", name).Warn("failed to publish metric")
	}
}

func awsTime(t time.Time) *time.Time { return &t }
