// Command bookingctl is a local helper for the booking service:
//
//	bookingctl token  -sub alice -role staff      mint a staff bearer token
//	bookingctl health -addr localhost:9083        query the gRPC health service
//	bookingctl tail   -topics booking.appointment.requested.v1,...
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/shopbook/libs/auth"
	"github.com/md-rashed-zaman/shopbook/libs/config"
	"github.com/md-rashed-zaman/shopbook/libs/grpcx"
	"github.com/md-rashed-zaman/shopbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/shopbook/libs/otel"
	"github.com/md-rashed-zaman/shopbook/libs/runtime"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/outbox"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	_ = config.LoadDotEnv()
	if len(os.Args) < 2 {
		fatal("usage: bookingctl token|health|tail [flags]")
	}
	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "token":
		err = runToken(args)
	case "health":
		err = runHealth(args)
	case "tail":
		err = runTail(args)
	default:
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}
	if err != nil {
		fatal(err.Error())
	}
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	var (
		sub    = fs.String("sub", "", "subject (staff user id)")
		role   = fs.String("role", auth.RoleStaff, "staff or admin")
		ttl    = fs.Duration("ttl", 12*time.Hour, "token lifetime")
		secret = fs.String("secret", config.String("AUTH_JWT_SECRET", ""), "HS256 signing secret")
	)
	_ = fs.Parse(args)

	if strings.TrimSpace(*secret) == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	if strings.TrimSpace(*sub) == "" {
		return fmt.Errorf("-sub is required")
	}
	if *role != auth.RoleStaff && *role != auth.RoleAdmin {
		return fmt.Errorf("role must be %s or %s", auth.RoleStaff, auth.RoleAdmin)
	}
	token, err := auth.SignHS256(auth.NewClaims(*sub, *role, time.Now(), *ttl), *secret)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	var (
		addr    = fs.String("addr", "localhost:"+config.String("GRPC_PORT", "9083"), "gRPC address")
		service = fs.String("service", "", "service name; empty checks the whole server")
		timeout = fs.Duration("timeout", 3*time.Second, "call timeout")
	)
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	conn, err := grpcx.Dial(*addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", *addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: *service})
	if err != nil {
		return err
	}
	fmt.Println(resp.GetStatus().String())
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		os.Exit(2)
	}
	return nil
}

var defaultTopics = strings.Join([]string{
	outbox.EventAppointmentRequested,
	outbox.EventAppointmentStatusChanged,
	outbox.EventAppointmentCancelled,
	outbox.EventReminderDue,
	outbox.EventReminderDLQ,
}, ",")

func runTail(args []string) error {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	var (
		brokers = fs.String("brokers", config.String("KAFKA_BROKERS", "localhost:9092"), "comma separated brokers")
		topics  = fs.String("topics", defaultTopics, "comma separated topics")
		group   = fs.String("group", "bookingctl-tail", "consumer group id")
	)
	_ = fs.Parse(args)

	logger := runtime.NewLogger("bookingctl", config.String("LOG_LEVEL", "info"))
	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv("bookingctl"))
	if err == nil {
		defer func() { _ = otelShutdown(context.Background()) }()
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkax.SplitBrokers(*brokers),
		GroupID:     *group,
		GroupTopics: splitCSV(*topics),
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	tracer := otelx.Tracer("bookingctl")
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("kafka read error", "err", err)
			time.Sleep(time.Second)
			continue
		}
		msgCtx := kafkax.ExtractTraceContext(ctx, msg)
		_, span := tracer.Start(msgCtx, "booking.event.tail",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)
		line, err := describe(msg)
		if err != nil {
			span.RecordError(err)
			logger.Warn("undecodable event", "topic", msg.Topic, "err", err)
		} else {
			fmt.Println(line)
		}
		span.End()
	}
}

// describe renders one event as a single human readable line.
func describe(msg kafka.Message) (string, error) {
	meta := kafkax.ExtractEventMeta(msg)
	var payload map[string]any
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return "", err
	}
	parts := []string{meta.EventType, "appointment=" + meta.Aggregate}
	for _, key := range []string{"date", "start_time", "status", "previous_status", "channel", "kind"} {
		if v, ok := payload[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", key, v))
		}
	}
	if tp := kafkax.HeaderValue(msg.Headers, "traceparent"); tp != "" {
		parts = append(parts, "trace="+tp)
	}
	return strings.Join(parts, " "), nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fatal(msg string) {
	_, _ = fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
