package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"parcelqr/pkg/config"
	"parcelqr/pkg/db"
	"parcelqr/pkg/db/pagination"
	"parcelqr/pkg/gen"
	"parcelqr/pkg/hashistack/secretmanager"
	"parcelqr/pkg/logger"
	"parcelqr/pkg/redis"
	"parcelqr/services/qrtoken"
	"parcelqr/services/subject"
	"parcelqr/services/sweeper"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const usage = `usage: qrctl <command> [flags]

commands:
  issue     issue a QR for a parcel (-parcel) or pickup (-pickup, -hours)
  print     print the current parcel QR, issuing one if none is valid
  regen     supersede the parcel QR with a fresh one
  verify    verify scanned content (-content)
  revoke    revoke a token (-token) or every token of a subject
  history   list a subject's tokens
  sweep     delete expired tokens past the grace period
  jobs      list sweep runs
  migrate   create or update the QR tables`

type app struct {
	fx.In

	DB      *gorm.DB
	QR      *qrtoken.Service
	Store   *qrtoken.Store
	Sweeper *sweeper.Service
	Logger  *zap.Logger
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var a app
	fxApp := fx.New(
		secretmanager.Module,
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		subject.Module,
		qrtoken.Module,
		sweeper.Module,
		fx.Populate(&a),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	err := run(context.Background(), &a, os.Args[1], os.Args[2:])

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = fxApp.Stop(stopCtx)

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	parcelRef := fs.String("parcel", "", "parcel reference")
	pickupRef := fs.String("pickup", "", "pickup request reference")
	hours := fs.Int("hours", a.QR.DefaultValidityHours(), "temporary QR validity in hours")
	content := fs.String("content", "", "scanned QR content")
	clientIP := fs.String("ip", "", "client IP recorded with the attempt")
	userAgent := fs.String("ua", "qrctl", "user agent recorded with the attempt")
	token := fs.String("token", "", "token value")
	reason := fs.String("reason", qrtoken.ReasonRevoked, "revocation reason")
	limit := fs.Int("limit", pagination.DefaultLimit, "page size")
	cursor := fs.String("cursor", "", "page cursor")

	if err := fs.Parse(args); err != nil {
		return err
	}

	switch cmd {
	case "issue":
		switch {
		case *parcelRef != "":
			return printIssued(a.QR.IssueParcelQR(ctx, *parcelRef))
		case *pickupRef != "":
			return printIssued(a.QR.IssuePickupQR(ctx, *pickupRef, *hours))
		default:
			return errors.New("-parcel or -pickup required")
		}

	case "print":
		if *parcelRef == "" {
			return errors.New("-parcel required")
		}
		return printIssued(a.QR.ReprintParcelQR(ctx, *parcelRef))

	case "regen":
		if *parcelRef == "" {
			return errors.New("-parcel required")
		}
		return printIssued(a.QR.Regenerate(ctx, *parcelRef))

	case "verify":
		if *content == "" {
			return errors.New("-content required")
		}
		out, err := a.QR.Verify(ctx, *content, *clientIP, *userAgent)
		if err != nil {
			return err
		}
		return printJSON(out)

	case "revoke":
		var (
			n   int64
			err error
		)
		switch {
		case *token != "":
			err = a.QR.Revoke(ctx, *token, *reason)
			n = 1
		case *parcelRef != "":
			n, err = a.QR.RevokeParcel(ctx, *parcelRef, *reason)
		case *pickupRef != "":
			n, err = a.QR.RevokePickup(ctx, *pickupRef, *reason)
		default:
			return errors.New("-token, -parcel or -pickup required")
		}
		if err != nil {
			return err
		}
		fmt.Printf("revoked %d token(s)\n", n)
		return nil

	case "history":
		tokenType, ref := qrtoken.TokenPermanent, *parcelRef
		if *pickupRef != "" {
			tokenType, ref = qrtoken.TokenTemporary, *pickupRef
		}
		if ref == "" {
			return errors.New("-parcel or -pickup required")
		}
		rows, info, err := a.Store.ListForSubject(ctx, tokenType, ref, pagination.Pagination{Limit: *limit, Cursor: *cursor})
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"tokens": rows, "page_info": info})

	case "sweep":
		job, err := a.Sweeper.RunSweep(ctx)
		if err != nil {
			return err
		}
		return printJSON(job)

	case "jobs":
		jobs, info, err := a.Sweeper.ListJobs(ctx, pagination.Pagination{Limit: *limit, Cursor: *cursor})
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"jobs": jobs, "page_info": info})

	case "migrate":
		return db.Migrate(a.DB, append(qrtoken.Models(), sweeper.Models()...)...)

	default:
		fmt.Fprintln(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printIssued(issued *qrtoken.Issued, err error) error {
	if err != nil {
		return err
	}

	fmt.Println(issued.Content)
	zap.L().Info("qr issued",
		zap.String("token_id", issued.Token.ID),
		zap.String("token_type", string(issued.Token.TokenType)),
	)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
