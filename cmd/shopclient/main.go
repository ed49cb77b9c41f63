// cmd/shopclient/main.go

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"google.golang.org/grpc"

	"github.com/norun9/shopclient/apiclient"
	"github.com/norun9/shopclient/client"
	"github.com/norun9/shopclient/config"
	"github.com/norun9/shopclient/models"
)

var log *logrus.Logger

func initLogger(cfg config.LogConfig) {
	log = logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.Level = level
	if cfg.Format == "text" {
		log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	} else {
		log.Formatter = &logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "severity",
				logrus.FieldKeyMsg:   "message",
			},
			TimestampFormat: time.RFC3339Nano,
		}
	}
	// stdout belongs to the shell.
	log.Out = os.Stderr
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env", ".env", "path to a .env file")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		tp, err := initTracerProvider(ctx, cfg.Tracing)
		if err != nil {
			log.Fatalf("failed to initialize tracer provider: %v", err)
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				log.Printf("Error shutting down tracer provider: %v", err)
			}
		}()
		log.Info("OpenTelemetry TracerProvider initialized successfully")
	}

	c, err := client.New(cfg, client.Options{
		Logger: log,
		OnSessionExpired: func(loginPath string) {
			fmt.Printf("\nsession expired, sign in again (%s)\n", loginPath)
		},
	})
	if err != nil {
		log.Fatalf("failed to build client: %v", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.WithError(err).Warn("failed to close store")
		}
	}()
	c.Start(ctx)

	sh := &shell{c: c, out: os.Stdout}
	sh.run(ctx, os.Stdin)
}

// initTracerProvider installs an OTLP gRPC exporter with W3C trace context.
func initTracerProvider(ctx context.Context, cfg config.TracingConfig) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithDialOption(grpc.WithConnectParams(
			grpc.ConnectParams{MinConnectTimeout: 5 * time.Second},
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String("v1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(exporter)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp, nil
}

type shell struct {
	c   *client.Client
	out io.Writer
}

const help = `commands:
  login <email> <password>       register <email> <password> [name]
  logout                         whoami
  cart                           add <productId> [qty] [price] [title]
  qty <lineId> <qty>             rm <lineId>
  clear                          wishlist
  wish <productId>               viewed [productId]
  status                         quit`

func (s *shell) run(ctx context.Context, in io.Reader) {
	fmt.Fprintln(s.out, help)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			return
		}
		args := strings.Fields(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" {
			return
		}
		if err := s.exec(ctx, args[0], args[1:]); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *shell) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		if len(args) != 2 {
			return fmt.Errorf("usage: login <email> <password>")
		}
		user, err := s.c.Auth.Login(ctx, args[0], args[1])
		if user != nil {
			fmt.Fprintf(s.out, "signed in as %s\n", user.Email)
		}
		return err
	case "register":
		if len(args) < 2 {
			return fmt.Errorf("usage: register <email> <password> [name]")
		}
		in := apiclient.RegisterInput{Email: args[0], Password: args[1], FullName: strings.Join(args[2:], " ")}
		user, err := s.c.Auth.Register(ctx, in)
		if user != nil {
			fmt.Fprintf(s.out, "registered %s\n", user.Email)
		}
		return err
	case "logout":
		s.c.Auth.Logout(ctx)
		fmt.Fprintln(s.out, "signed out")
	case "whoami":
		if u := s.c.Session.User(); u != nil && s.c.Session.IsAuthenticated() {
			fmt.Fprintf(s.out, "%s (%s)\n", u.Email, u.FullName)
		} else {
			fmt.Fprintln(s.out, "guest")
		}
	case "cart":
		return s.printCart(ctx)
	case "add":
		return s.add(ctx, args)
	case "qty":
		if len(args) != 2 {
			return fmt.Errorf("usage: qty <lineId> <qty>")
		}
		q, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		return s.c.Cart.UpdateQuantity(ctx, args[0], q)
	case "rm":
		if len(args) != 1 {
			return fmt.Errorf("usage: rm <lineId>")
		}
		return s.c.Cart.Remove(ctx, args[0])
	case "clear":
		return s.c.Cart.Clear(ctx)
	case "wishlist":
		ids, err := s.c.Wishlist.List(ctx)
		fmt.Fprintf(s.out, "wishlist: %v\n", ids)
		return err
	case "wish":
		id, err := productArg(args)
		if err != nil {
			return err
		}
		added, err := s.c.Wishlist.Toggle(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "product %d in wishlist: %t\n", id, added)
	case "viewed":
		if len(args) == 1 {
			id, err := productArg(args)
			if err != nil {
				return err
			}
			s.c.RecentlyViewed.Add(ctx, id)
		}
		fmt.Fprintf(s.out, "recently viewed: %v\n", s.c.RecentlyViewed.ProductIDs())
	case "status":
		r := s.c.Health.Check(ctx)
		fmt.Fprintf(s.out, "status=%s storage=%t refresh=%s authenticated=%t cart=%s\n",
			r.Status, r.Storage, r.RefreshPhase, r.Authenticated, s.c.Cart.Mode())
	case "help":
		fmt.Fprintln(s.out, help)
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

func (s *shell) printCart(ctx context.Context) error {
	lines, err := s.c.Cart.Items(ctx)
	for _, l := range lines {
		fmt.Fprintf(s.out, "%-40s product=%-4d qty=%-3d subtotal=%s %s\n", l.ID, l.ProductID, l.Quantity, l.Subtotal, l.Title)
	}
	fmt.Fprintf(s.out, "items=%d total=%s (%s cart)\n", models.Count(lines), models.Total(lines), s.c.Cart.Mode())
	return err
}

func (s *shell) add(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: add <productId> [qty] [price] [title]")
	}
	id, err := productArg(args[:1])
	if err != nil {
		return err
	}
	req := models.AddRequest{ProductID: id, Quantity: 1}
	if len(args) > 1 {
		if req.Quantity, err = strconv.Atoi(args[1]); err != nil {
			return err
		}
	}
	if len(args) > 2 {
		if req.UnitPrice, err = decimal.NewFromString(args[2]); err != nil {
			return err
		}
	}
	if len(args) > 3 {
		req.Title = strings.Join(args[3:], " ")
	}
	return s.c.Cart.Add(ctx, req)
}

func productArg(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected one product id")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid product id %q", args[0])
	}
	return id, nil
}
