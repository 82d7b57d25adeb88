package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/keshly/keshly/constants"
	"github.com/keshly/keshly/internal/auth"
	"github.com/keshly/keshly/internal/bootstrap"
	"github.com/keshly/keshly/internal/categorize"
	"github.com/keshly/keshly/internal/export"
	"github.com/keshly/keshly/internal/ingest"
	"github.com/keshly/keshly/internal/llm"
	repo "github.com/keshly/keshly/internal/repository"
	"github.com/keshly/keshly/internal/stats"
)

func (a *app) signUp(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	email := fs.String("email", "", "e-mail address")
	password := fs.String("password", "", "password (min 6 characters)")
	name := fs.String("name", "", "full name")
	if err := parse(fs, args); err != nil {
		return err
	}
	s, err := a.manager.SignUp(ctx, auth.SignUpInput{Email: *email, Password: *password, FullName: *name})
	if err != nil {
		return errors.Wrap(err, "sign up")
	}
	if s == nil {
		okc("Poslat je e-mail za potvrdu naloga na %s\n", *email)
		return nil
	}
	okc("Prijavljeni ste kao %s\n", s.User.Email)
	return nil
}

func (a *app) signIn(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("signin", flag.ContinueOnError)
	email := fs.String("email", "", "e-mail address")
	password := fs.String("password", "", "password")
	if err := parse(fs, args); err != nil {
		return err
	}
	s, err := a.manager.SignIn(ctx, strings.ToLower(strings.TrimSpace(*email)), *password)
	if err != nil {
		return errors.Wrap(err, "sign in")
	}
	okc("Prijavljeni ste kao %s\n", s.User.Email)
	return nil
}

func (a *app) signOut() error {
	if err := a.manager.SignOut(); err != nil {
		return errors.Wrap(err, "sign out")
	}
	okc("Odjavljeni ste.\n")
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	s, err := a.manager.Session(ctx)
	if err != nil {
		return errors.Wrap(err, "load session")
	}
	if s == nil {
		fmt.Println("Niste prijavljeni.")
		return nil
	}
	fmt.Printf("%s <%s>\n", s.User.FullName, s.User.Email)
	return nil
}

// reconciler builds a flow bound to the stored session.
func (a *app) reconciler(ctx context.Context) (*ingest.Reconciler, error) {
	receipts := repo.NewReceiptRepository(a.db, a.logger)

	clock, err := bootstrap.Normalizer(a.cfg.Ingest, time.Now)
	if err != nil {
		return nil, err
	}
	hints := categorize.NewSuggester(a.logger)
	if err := hints.Load(ctx, receipts); err != nil {
		a.logger.Warn("category hints unavailable", "error", err)
	}

	deps := ingest.Deps{Receipts: receipts, Session: a.manager}
	if a.cfg.LLM.APIKey != "" {
		completer, closeFn, err := bootstrap.Completer(ctx, a.cfg.LLM, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeFn)
		deps.Classifier = llm.NewClassifier(completer, a.logger)
		if deps.Extractor, err = bootstrap.Extractor(ctx, a.cfg, a.logger); err != nil {
			return nil, err
		}
	}

	return ingest.NewReconciler(deps, a.logger,
		ingest.WithNormalizer(clock),
		ingest.WithCompensation(a.cfg.Ingest.CompensateOrphans),
		ingest.WithHints(hints),
	), nil
}

func (a *app) ingest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	url := fs.String("url", "", "receipt verification link")
	place := fs.String("place", "", "where the purchase happened")
	dry := fs.Bool("dry-run", false, "show the items without saving")
	if err := parse(fs, args); err != nil {
		return err
	}
	if a.cfg.LLM.APIKey == "" {
		return errors.New("LLM_API_KEY is required to read receipts")
	}

	r, err := a.reconciler(ctx)
	if err != nil {
		return err
	}
	if _, err := r.SelectMode(constants.EntryLink); err != nil {
		return errors.WithStack(err)
	}
	fmt.Println(ingest.MsgProcessing)
	snap, err := r.SubmitSource(ctx, *url)
	if err != nil {
		return errors.Wrap(err, snap.Message)
	}
	if *place != "" {
		if snap, err = r.SetPlace(*place); err != nil {
			return errors.WithStack(err)
		}
	}
	printSnapshot(snap)
	if *dry {
		return nil
	}
	return a.save(ctx, r)
}

func (a *app) add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	name := fs.String("name", "", "item name")
	price := fs.String("price", "0", "unit price")
	qty := fs.Int("qty", 1, "quantity")
	category := fs.Int("category", 0, "category 1-5; suggested from history when omitted")
	date := fs.String("date", "", "YYYY-MM-DD, defaults to today")
	clock := fs.String("time", "", "HH:MM:SS, defaults to now")
	place := fs.String("place", "", "where the purchase happened")
	if err := parse(fs, args); err != nil {
		return err
	}
	unit, err := decimal.NewFromString(*price)
	if err != nil {
		return errors.Wrapf(err, "invalid price %q", *price)
	}

	r, err := a.reconciler(ctx)
	if err != nil {
		return err
	}
	if _, err := r.SelectMode(constants.EntryManual); err != nil {
		return errors.WithStack(err)
	}
	cat := constants.Category(*category)
	if cat == 0 {
		if hint, ok := r.SuggestCategory(*name); ok {
			cat = hint
			fmt.Printf("Predložena kategorija: %s\n", hint.Name())
		} else {
			cat = constants.Other
		}
	}
	if _, err := r.UpdateItem(0, ingest.ItemPatch{Name: name, Category: cat, UnitPrice: unit, Quantity: *qty}); err != nil {
		return errors.WithStack(err)
	}
	for _, set := range []struct {
		v  string
		fn func(string) (ingest.Snapshot, error)
	}{{*date, r.SetDate}, {*clock, r.SetTime}, {*place, r.SetPlace}} {
		if set.v == "" {
			continue
		}
		if _, err := set.fn(set.v); err != nil {
			return errors.WithStack(err)
		}
	}
	printSnapshot(r.Snapshot())
	return a.save(ctx, r)
}

func (a *app) save(ctx context.Context, r *ingest.Reconciler) error {
	snap, err := r.Save(ctx)
	if err != nil {
		return errors.Wrap(err, snap.Message)
	}
	okc("%s\n", snap.Message)
	return nil
}

func printSnapshot(s ingest.Snapshot) {
	place := s.Place
	if place == "" {
		place = "-"
	}
	headc(" %s %s  %s ", s.Date, s.Time, place)
	fmt.Println()
	total := decimal.Zero
	for i, it := range s.Items {
		line := it.LineTotal()
		total = total.Add(line)
		color.New(color.FgCyan).Printf("%3d. ", i+1)
		fmt.Printf("%-32s %-20s %8s x%-3d %10s\n", it.Name, it.Category.Name(), it.UnitPrice.StringFixed(2), it.Quantity, line.StringFixed(2))
	}
	color.New(color.FgYellow).Printf("%73s\n", "Ukupno: "+total.StringFixed(2))
}

func (a *app) statsService() *stats.Service {
	clock, err := bootstrap.Normalizer(a.cfg.Ingest, time.Now)
	if err != nil {
		clock = nil
	}
	return stats.NewService(
		repo.NewStatsRepository(a.db, a.logger),
		repo.NewProfileRepository(a.db, a.logger),
		repo.NewReceiptRepository(a.db, a.logger),
		clock, a.logger,
	)
}

func (a *app) home(ctx context.Context) error {
	user, err := a.manager.CurrentUser(ctx)
	if err != nil {
		return errors.Wrap(err, "sign in first")
	}
	h, err := a.statsService().Home(ctx, user)
	if err != nil {
		return errors.WithStack(err)
	}
	headc(" %s  %s ", h.FullName, h.Month)
	fmt.Println()
	for _, sh := range h.Breakdown.Shares {
		fmt.Printf("%-20s %10s %6s%%\n", sh.Name, sh.Total.StringFixed(2), sh.Percent.StringFixed(1))
	}
	color.New(color.FgYellow).Printf("%-20s %10s\n", "Ukupno", h.Breakdown.Total.StringFixed(2))
	return nil
}

func (a *app) recent(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recent", flag.ContinueOnError)
	n := fs.Int("n", 5, "how many receipts")
	if err := parse(fs, args); err != nil {
		return err
	}
	user, err := a.manager.CurrentUser(ctx)
	if err != nil {
		return errors.Wrap(err, "sign in first")
	}
	recs, err := a.statsService().Recent(ctx, user, *n)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, r := range recs {
		headc(" %s %s ", r.DisplayDate, r.DisplayTime)
		fmt.Printf(" %d stavki, %s\n", len(r.Items), r.Total.StringFixed(2))
	}
	return nil
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	out := fs.String("out", "keshly.xlsx", "output XLSX path")
	fromStr := fs.String("from", "", "from date YYYY-MM-DD")
	toStr := fs.String("to", "", "to date YYYY-MM-DD")
	if err := parse(fs, args); err != nil {
		return err
	}
	var from, to *time.Time
	for _, p := range []struct {
		s   string
		dst **time.Time
	}{{*fromStr, &from}, {*toStr, &to}} {
		if p.s == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", p.s)
		if err != nil {
			return errors.Wrapf(err, "invalid date %q, use YYYY-MM-DD", p.s)
		}
		*p.dst = &t
	}

	user, err := a.manager.CurrentUser(ctx)
	if err != nil {
		return errors.Wrap(err, "sign in first")
	}
	xlsx, err := export.NewService(repo.NewReceiptRepository(a.db, a.logger), a.logger).ExportReceiptsXLSX(ctx, user, from, to)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.WriteFile(*out, xlsx, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", *out)
	}
	okc("Sačuvano u %s\n", *out)
	return nil
}
