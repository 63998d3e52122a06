package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/yungbote/kidslab-backend/internal/client/api"
	"github.com/yungbote/kidslab-backend/internal/client/fill"
	"github.com/yungbote/kidslab-backend/internal/client/view"
	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/modules/media"
	"github.com/yungbote/kidslab-backend/internal/platform/childauth"
	"github.com/yungbote/kidslab-backend/internal/platform/envutil"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
	"github.com/yungbote/kidslab-backend/internal/platform/shutdown"
)

type options struct {
	question   string
	audioFile  string
	outDir     string
	childID    string
	mode       string
	style      string
	stepImages bool
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("failed to read .env: %v\n", err)
	}

	var o options
	flag.StringVar(&o.question, "q", "", "question to ask (interactive when empty)")
	flag.StringVar(&o.audioFile, "audio", "", "recorded question to transcribe instead of -q")
	flag.StringVar(&o.outDir, "out", "kidslab-out", "directory for images and narration")
	flag.StringVar(&o.childID, "child", envutil.String("KIDSLAB_CHILD_ID", "cli"), "child id used when minting a token")
	flag.StringVar(&o.mode, "mode", "", "parallel or legacy (server default when empty)")
	flag.StringVar(&o.style, "style", "default", "default, metaphor, simple or detail")
	flag.BoolVar(&o.stepImages, "step-images", false, "fetch one image per step in legacy mode")
	flag.Parse()

	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	cfg := api.ConfigFromEnv()
	if cfg.Token == "" {
		if secret := envutil.String("AUTH_JWT_SECRET", ""); secret != "" {
			cfg.Token, err = childauth.Issue([]byte(secret), o.childID, 12*time.Hour)
			if err != nil {
				log.Fatal("mint child token", "error", err)
			}
		}
	}
	client, err := api.NewClient(log, cfg)
	if err != nil {
		log.Fatal("init api client", "error", err)
	}
	if err := os.MkdirAll(o.outDir, 0o755); err != nil {
		log.Fatal("create output dir", "error", err)
	}

	s := &session{log: log, client: client, opts: o}
	s.machine = view.NewMachine(log, client, view.Options{
		Mode:         o.mode,
		Style:        domain.ParseStyle(o.style),
		OnTransition: s.onTransition,
	})

	if o.audioFile != "" {
		raw, err := os.ReadFile(o.audioFile)
		if err != nil {
			log.Fatal("read audio", "error", err)
		}
		text, err := client.Transcribe(ctx, raw, "")
		if err != nil {
			log.Fatal("transcribe", "error", err)
		}
		fmt.Printf("きこえたよ: %s\n", text)
		o.question = text
	}
	if o.question != "" {
		if err := s.ask(ctx, o.question); err != nil {
			os.Exit(1)
		}
		return
	}

	in := bufio.NewScanner(os.Stdin)
	fmt.Print("しつもん> ")
	for in.Scan() {
		q := strings.TrimSpace(in.Text())
		if q != "" {
			_ = s.ask(ctx, q)
		}
		if ctx.Err() != nil {
			return
		}
		fmt.Print("しつもん> ")
	}
}

type session struct {
	log     *logger.Logger
	client  *api.Client
	machine *view.Machine
	opts    options
}

func (s *session) onTransition(t view.Transition) {
	switch t.To {
	case view.StateSelecting:
		fmt.Println("はかせをよんでいるよ...")
	case view.StateImageGenerating:
		_, reason := s.machine.Expert()
		fmt.Printf("%s がこたえるよ (%s)\n", t.Expert, reason)
	case view.StateInput:
		if q := s.machine.Question(); q != "" {
			fmt.Printf("うまくいかなかったよ。もういちどためしてね: %s\n", q)
		}
	}
}

func (s *session) ask(ctx context.Context, question string) error {
	resp, err := s.machine.Ask(ctx, question)
	if err != nil {
		s.log.Warn("question failed", "error", err)
		return err
	}
	runDir := filepath.Join(s.opts.outDir, runName(resp))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}

	cache := fill.FromResponse(resp, 0)
	defer cache.Close()
	s.writeImage(runDir, "combined", firstNonEmpty(resp.CombinedImageURL, resp.ImageURL))

	var wg sync.WaitGroup
	var prefetch *fill.Prefetcher
	if resp.UseParallelGeneration {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.fillAudio(ctx, cache)
		}()
	} else {
		prefetch = fill.NewPrefetcher(s.log, s.client)
		if s.opts.stepImages {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := fill.NewImageWorker(s.log, s.client).Run(ctx, cache); err != nil && !errors.Is(err, context.Canceled) {
					s.log.Warn("step images stopped", "error", err)
				}
			}()
		}
	}

	stepper := view.NewStepper(cache, prefetch)
	for p, ok := stepper.Start(ctx); ok; p, ok = stepper.AudioEnded(ctx) {
		fmt.Printf("[%d/%d] %s\n", p.StepNumber, cache.Len(), p.Text)
		if !resp.UseParallelGeneration {
			s.ensureAudio(ctx, cache, stepper.Index())
		}
		wav, ok := view.WaitForAudio(ctx, cache, stepper.Index(), view.AudioPollInterval, view.AudioWaitTimeout)
		if !ok {
			fmt.Println("  (こえはおやすみ中だよ)")
			continue
		}
		path := filepath.Join(runDir, fmt.Sprintf("step-%d.wav", p.StepNumber))
		if err := os.WriteFile(path, wav, 0o644); err != nil {
			s.log.Warn("write narration", "path", path, "error", err)
			continue
		}
		fmt.Printf("  ♪ %s\n", path)
	}
	wg.Wait()
	if prefetch != nil {
		prefetch.Wait()
	}
	for _, p := range cache.Pairs() {
		if p.ImageURL != nil && *p.ImageURL != firstNonEmpty(resp.CombinedImageURL, resp.ImageURL) {
			s.writeImage(runDir, fmt.Sprintf("step-%d", p.StepNumber), *p.ImageURL)
		}
	}

	for _, f := range resp.FollowUpQuestions {
		fmt.Printf("%s %s\n", f.Emoji, f.Question)
	}
	return nil
}

// fillAudio narrates pair 0 itself when the fast path came back without
// audio, then hands the rest to the background worker.
func (s *session) fillAudio(ctx context.Context, cache *fill.RunCache) {
	w := fill.NewAudioWorker(s.log, s.client)
	err := w.Run(ctx, cache)
	if errors.Is(err, fill.ErrFirstPending) {
		s.ensureAudio(ctx, cache, 0)
		err = w.Run(ctx, cache)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("background audio stopped", "error", err)
	}
}

func (s *session) ensureAudio(ctx context.Context, cache *fill.RunCache, i int) {
	p, ok := cache.Pair(i)
	if !ok || p.AudioData != nil || !cache.Claim(p.ID) {
		return
	}
	audio, err := s.client.SynthesizeStepAudio(ctx, p.ID, cache.Agent(), p.Text)
	if err != nil {
		s.log.Warn("step audio failed", "pair_id", p.ID, "error", err)
	}
	cache.SetAudio(p.ID, audio)
}

func (s *session) writeImage(dir, name, url string) {
	switch {
	case url == "":
		fmt.Println("(え はおやすみ中だよ)")
	case media.IsDataURL(url):
		mime, raw, err := media.ParseDataURL(url)
		if err != nil {
			s.log.Warn("decode image", "error", err)
			return
		}
		path := filepath.Join(dir, name+imageExt(mime))
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			s.log.Warn("write image", "path", path, "error", err)
			return
		}
		fmt.Printf("🖼  %s\n", path)
	default:
		fmt.Printf("🖼  %s\n", url)
	}
}

func runName(resp *domain.AgentResponse) string {
	if resp.RunID != "" {
		return resp.RunID
	}
	return time.Now().Format("20060102-150405")
}

func imageExt(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
