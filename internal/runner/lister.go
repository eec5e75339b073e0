package runner

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/pilebones/go-udev/crawler"
	"github.com/pilebones/go-udev/netlink"

	"daqserver/internal/faults"
	"daqserver/internal/logging"
)

// DeviceLister enumerates the acquisition devices visible to the server.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]string, error)
}

// StaticLister reports a fixed device list. Debug mode uses StaticLister{"Dev1"}.
type StaticLister []string

// ListDevices returns a copy of the list.
func (s StaticLister) ListDevices(context.Context) ([]string, error) {
	if len(s) == 0 {
		return nil, faults.Wrap(faults.ErrUnsupported, "devices", "list", "no devices configured", nil)
	}
	return slices.Clone([]string(s)), nil
}

const defaultCrawlTimeout = 5 * time.Second

type crawlFunc func(ctx context.Context, matcher netlink.Matcher) ([]map[string]string, error)

// UdevLister enumerates devices by crawling sysfs uevent files. Devices whose
// uevent environment matches every Match rule (key = regular expression) are
// reported by the value of NameKey.
type UdevLister struct {
	nameKey string
	match   map[string]string
	timeout time.Duration
	logger  *slog.Logger
	crawl   crawlFunc
}

// NewUdevLister constructs a sysfs-backed lister.
func NewUdevLister(nameKey string, match map[string]string, logger *slog.Logger) *UdevLister {
	if strings.TrimSpace(nameKey) == "" {
		nameKey = "DEVNAME"
	}
	return &UdevLister{
		nameKey: nameKey,
		match:   match,
		timeout: defaultCrawlTimeout,
		logger:  logging.NewComponentLogger(logger, "device-lister"),
		crawl:   crawlSysfs,
	}
}

// ListDevices returns the sorted, de-duplicated device names. Failure to read
// sysfs is reported as faults.ErrUnsupported.
func (l *UdevLister) ListDevices(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	envs, err := l.crawl(ctx, l.matcher())
	if err != nil {
		return nil, faults.Wrap(faults.ErrUnsupported, "devices", "list", "cannot enumerate devices", err)
	}

	seen := make(map[string]struct{}, len(envs))
	names := make([]string, 0, len(envs))
	for _, env := range envs {
		name := strings.TrimSpace(env[l.nameKey])
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	slices.Sort(names)
	l.logger.Debug("devices enumerated", logging.Int("count", len(names)))
	return names, nil
}

func (l *UdevLister) matcher() netlink.Matcher {
	if len(l.match) == 0 {
		return nil
	}
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{Env: l.match})
	return rules
}

func crawlSysfs(ctx context.Context, matcher netlink.Matcher) ([]map[string]string, error) {
	queue := make(chan crawler.Device)
	errs := make(chan error, 16)
	quit := crawler.ExistingDevices(queue, errs, matcher)

	var envs []map[string]string
	var firstErr error
	for {
		select {
		case <-ctx.Done():
			close(quit)
			go drainCrawl(queue, errs)
			return nil, ctx.Err()
		case err := <-errs:
			if firstErr == nil {
				firstErr = err
			}
		case dev, ok := <-queue:
			if ok {
				envs = append(envs, dev.Env)
				continue
			}
			select {
			case err := <-errs:
				if firstErr == nil {
					firstErr = err
				}
			default:
			}
			if len(envs) == 0 && firstErr != nil {
				return nil, firstErr
			}
			return envs, nil
		}
	}
}

func drainCrawl(queue <-chan crawler.Device, errs <-chan error) {
	for {
		select {
		case _, ok := <-queue:
			if !ok {
				return
			}
		case <-errs:
		}
	}
}
