package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/weaveworks/common/logging"

	"github.com/courseops/commerce-sync/enrollsync"
)

var (
	receiveFromSQS = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "commerce_sync",
		Name:      "receive_from_sqs_total",
		Help:      "Total number of events read from SQS."})

	receiveFromSQSError = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "commerce_sync",
		Name:      "receive_from_sqs_errors_total",
		Help:      "Total number of failures when reading from SQS."})

	deleteFromSQS = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "commerce_sync",
		Name:      "delete_from_sqs_total",
		Help:      "Total number of events deleted from SQS."})

	malformedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "commerce_sync",
		Name:      "malformed_events_total",
		Help:      "Total number of queue messages that did not decode as events."})

	redeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "commerce_sync",
		Name:      "redeliveries_total",
		Help:      "Total number of events left on the queue for redelivery."})
)

func init() {
	prometheus.MustRegister(
		receiveFromSQS,
		receiveFromSQSError,
		deleteFromSQS,
		malformedEvents,
		redeliveries,
	)
}

// EventProcessor handles one decoded event. A retriable error leaves the
// message on the queue for redelivery after the visibility timeout.
type EventProcessor interface {
	Process(ctx context.Context, ev enrollsync.Event) error
}

// Config for a Worker contains the SQS API interface and the queue URL.
type Config struct {
	SQSCli   sqsiface.SQSAPI
	SQSQueue string
}

// Worker pulls commerce events off SQS and hands them to the processor.
type Worker struct {
	log       logging.Interface
	sqsCli    sqsiface.SQSAPI
	sqsQueue  string
	processor EventProcessor
	wg        sync.WaitGroup
}

// New creates a Worker from the config.
func New(log logging.Interface, c Config, processor EventProcessor) *Worker {
	return &Worker{
		log:       log,
		sqsCli:    c.SQSCli,
		sqsQueue:  c.SQSQueue,
		processor: processor,
	}
}

// Run receives events from the queue until ctx is cancelled, then waits for
// in-flight events to finish.
func (w *Worker) Run(ctx context.Context) {
	defer w.wg.Wait()
	for {
		if err := w.HandleEvent(ctx); err != nil {
			if err == context.Canceled {
				return
			}
			w.log.Errorf("Handle event error: %s", err)
		}
	}
}

// HandleEvent receives one message from the queue and starts a goroutine to
// process it. Long polling keeps the receive loop cheap when the queue is
// idle.
func (w *Worker) HandleEvent(ctx context.Context) error {
	recvInp := &sqs.ReceiveMessageInput{
		WaitTimeSeconds:   aws.Int64(20),
		VisibilityTimeout: aws.Int64(60),
		QueueUrl:          &w.sqsQueue,
	}

	out, err := w.sqsCli.ReceiveMessageWithContext(ctx, recvInp)
	if err != nil {
		aerr, ok := err.(awserr.Error)
		if ok && aerr.OrigErr() == context.Canceled {
			return context.Canceled
		}
		receiveFromSQSError.Inc()
		return errors.Wrap(err, "cannot receive event from SQS")
	}

	if len(out.Messages) == 0 {
		return nil
	}

	// Only 1 message at a time, the default MaxNumberOfMessages.
	receiveFromSQS.Inc()
	msg := out.Messages[0]

	var ev enrollsync.Event
	if err := json.Unmarshal([]byte(*msg.Body), &ev); err != nil {
		// A message that never decodes would be redelivered forever; drop it.
		malformedEvents.Inc()
		w.log.Warnf("Cannot unmarshal message %q as event, deleting it: %s", *msg.Body, err)
		return w.deleteMessage(msg.ReceiptHandle)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.processEvent(ctx, ev, msg.ReceiptHandle); err != nil {
			w.log.Errorf("Cannot process event %s: %s", ev.MessageID, err)
		}
	}()

	return nil
}

// processEvent runs the event through the processor. A retriable error leaves
// the message on the queue to reappear after the visibility timeout; any
// other outcome deletes it.
func (w *Worker) processEvent(ctx context.Context, ev enrollsync.Event, receiptHandle *string) error {
	if err := w.processor.Process(ctx, ev); err != nil {
		if enrollsync.IsRetriable(err) {
			redeliveries.Inc()
			return errors.Wrapf(err, "event %s left for redelivery", ev.MessageID)
		}
		w.log.Warnf("Event %s failed and will not be retried: %s", ev.MessageID, err)
	}
	return w.deleteMessage(receiptHandle)
}

func (w *Worker) deleteMessage(receiptHandle *string) error {
	deleteInp := &sqs.DeleteMessageInput{
		QueueUrl:      &w.sqsQueue,
		ReceiptHandle: receiptHandle,
	}
	if _, err := w.sqsCli.DeleteMessage(deleteInp); err != nil {
		return errors.Wrap(err, "failed to delete message from SQS")
	}
	deleteFromSQS.Inc()
	return nil
}

// HandleHealthCheck handles a very simple health check
func (w *Worker) HandleHealthCheck(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(http.StatusOK)
}
