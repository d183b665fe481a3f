package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/alecthomas/kingpin.v2"

	"classboard/internal/app"
	"classboard/internal/config"
	"classboard/internal/library"
	"classboard/internal/logging"
	"classboard/internal/object"
	"classboard/internal/server"
	"classboard/internal/snapshot"
	"classboard/internal/surface"
	"classboard/internal/whiteboard"
)

func main() {
	cli := kingpin.New("whiteboard", "Classroom whiteboard relay and tools")
	cli.HelpFlag.Short('h')
	envFile := cli.Flag("env-file", "Optional .env file").Default(".env").String()

	cli.Command("serve", "Run the relay and snapshot API").Default()

	export := cli.Command("export", "Render a saved whiteboard to the library")
	var (
		exportID     = export.Arg("id", "Whiteboard session id").Required().String()
		exportDir    = export.Flag("output", "Output directory").Short('o').String()
		exportFormat = export.Flag("format", "png or pdf").Short('f').Enum("png", "pdf")
		exportScale  = export.Flag("scale", "Raster scale factor").Default("1").Float64()
	)

	inspect := cli.Command("inspect", "Show a saved whiteboard")
	inspectID := inspect.Arg("id", "Whiteboard session id").Required().String()

	watch := cli.Command("watch", "Join a session and log what changes")
	watchID := watch.Arg("id", "Whiteboard session id").Required().String()

	collab := cli.Command("collab", "Turn collaboration on or off for a live session")
	var (
		collabID = collab.Arg("id", "Whiteboard session id").Required().String()
		collabOn = collab.Arg("state", "on or off").Required().Enum("on", "off")
	)

	clearCmd := cli.Command("clear", "Clear a session for everyone and save it empty")
	clearID := clearCmd.Arg("id", "Whiteboard session id").Required().String()

	command := kingpin.MustParse(cli.Parse(os.Args[1:]))

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "serve":
		err = doServe(ctx, cfg)
	case "export":
		if *exportDir != "" {
			cfg.LibraryDir = *exportDir
		}
		if *exportFormat != "" {
			cfg.LibraryFormat = *exportFormat
		}
		err = doExport(ctx, cfg, *exportID, *exportScale)
	case "inspect":
		err = doInspect(ctx, cfg, *inspectID)
	case "watch":
		err = doWatch(ctx, cfg, *watchID)
	case "collab":
		err = doCollab(ctx, cfg, *collabID, *collabOn == "on")
	case "clear":
		err = doClear(ctx, cfg, *clearID)
	default:
		err = fmt.Errorf("unknown command: %q", command)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func doServe(ctx context.Context, cfg *config.Config) error {
	store, closer, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	srv := server.New(cfg, store)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx) })
	g.Go(func() error { return srv.RunCleanup(ctx) })
	return g.Wait()
}

func loadSurface(ctx context.Context, cfg *config.Config, id string) (*snapshot.Record, *surface.Surface, error) {
	store, closer, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	defer closer.Close()

	rec, err := store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	surf := surface.New(0, 0)
	if len(rec.Content) > 0 {
		if _, err := surf.Load(rec.Content, object.NewValidator()); err != nil {
			logging.For("cli").WithError(err).Warn("some objects could not be loaded")
		}
	}
	return rec, surf, nil
}

func doExport(ctx context.Context, cfg *config.Config, id string, scale float64) error {
	rec, surf, err := loadSurface(ctx, cfg, id)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := surf.Rasterize(&buf, scale); err != nil {
		return err
	}

	title := rec.Title
	if title == "" {
		title = rec.ID
	}
	if err := app.Library(cfg).SaveToLibrary(ctx, buf.Bytes(), title); err != nil {
		return err
	}

	fmt.Printf("%s/%s.%s\n", cfg.LibraryDir, library.Slug(title), cfg.LibraryFormat)
	return nil
}

func doInspect(ctx context.Context, cfg *config.Config, id string) error {
	rec, surf, err := loadSurface(ctx, cfg, id)
	if err != nil {
		return err
	}

	fmt.Printf("id:            %s\n", rec.ID)
	fmt.Printf("class:         %s\n", rec.ClassID)
	fmt.Printf("controller:    %s\n", rec.ControllerID)
	fmt.Printf("title:         %s\n", rec.Title)
	fmt.Printf("collaboration: %v\n", rec.CollaborationEnabled)
	fmt.Printf("updated:       %s\n", rec.UpdatedAt.Format(time.RFC3339))
	fmt.Printf("objects:       %d\n", surf.Len())

	counts := make(map[object.Kind]int)
	for _, obj := range surf.Objects() {
		counts[obj.Kind]++
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-8s %d\n", k, counts[object.Kind(k)])
	}
	return nil
}

// openEngine joins a live session with the configured transport and store
func openEngine(ctx context.Context, cfg *config.Config, id string, controller bool, invalidate func()) (*whiteboard.Engine, func(), error) {
	store, storeCloser, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	transport, transportCloser, err := app.Transport(ctx, cfg, "")
	if err != nil {
		storeCloser.Close()
		return nil, nil, err
	}

	log := logging.For("cli")
	engine := whiteboard.New(whiteboard.Options{
		UserID:    "cli",
		Transport: transport,
		Store:     store,
		Library:   app.Library(cfg),
		Notifier: whiteboard.NotifierFunc(func(err error) {
			log.WithError(err).Warn("notice")
		}),
		Invalidate: invalidate,
		Log:        logging.For("whiteboard"),
	})

	if err := engine.Open(ctx, id, controller); err != nil {
		transportCloser.Close()
		storeCloser.Close()
		return nil, nil, err
	}

	release := func() {
		engine.Close()
		transportCloser.Close()
		storeCloser.Close()
	}
	return engine, release, nil
}

func doWatch(ctx context.Context, cfg *config.Config, id string) error {
	log := logging.For("watch").WithField("session", id)

	engine, release, err := openEngine(ctx, cfg, id, false, func() {
		log.Info("canvas changed")
	})
	if err != nil {
		return err
	}
	defer release()

	log.WithFields(logrus.Fields{
		"objects":       engine.Surface().Len(),
		"collaboration": engine.Collaboration(),
	}).Info("watching, interrupt to stop")

	<-ctx.Done()
	return nil
}

func doCollab(ctx context.Context, cfg *config.Config, id string, enabled bool) error {
	engine, release, err := openEngine(ctx, cfg, id, true, nil)
	if err != nil {
		return err
	}
	defer release()

	return engine.SetCollaboration(ctx, enabled)
}

func doClear(ctx context.Context, cfg *config.Config, id string) error {
	engine, release, err := openEngine(ctx, cfg, id, true, nil)
	if err != nil {
		return err
	}
	defer release()

	if err := engine.Clear(ctx); err != nil {
		return err
	}
	_, err = engine.Save(ctx)
	return err
}
