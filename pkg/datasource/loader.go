package datasource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/neurodesk/jinjapreview/pkg/jinja2"
	"github.com/neurodesk/jinjapreview/pkg/netcache"
)

// Loader reads data sources and merges them into one context.
type Loader struct {
	// Cache fetches http(s) sources. Nil means a cache in netcache.DefaultDir.
	Cache *netcache.Cache
	// Stdin is read for the source "-". Nil means os.Stdin.
	Stdin  io.Reader
	Logger *slog.Logger
}

// Load reads every source in order and merges their top-level keys; later
// sources win. A source is a file path, "-" for standard input, or an
// http(s) URL. Starlark sources see everything loaded before them as
// globals.
func (l *Loader) Load(ctx context.Context, sources ...string) (jinja2.Context, error) {
	merged := jinja2.Context{}
	for _, src := range sources {
		name, data, err := l.read(ctx, src)
		if err != nil {
			return nil, err
		}
		part, err := decode(name, data, merged, l.logger())
		if err != nil {
			return nil, err
		}
		l.logger().Debug("loaded data source", "source", src, "keys", len(part))
		for k, v := range part {
			merged[k] = v
		}
	}
	return merged, nil
}

// read returns the bytes of src and the name used to pick its format.
func (l *Loader) read(ctx context.Context, src string) (string, []byte, error) {
	switch {
	case src == "-":
		in := l.Stdin
		if in == nil {
			in = os.Stdin
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return "", nil, fmt.Errorf("reading stdin: %w", err)
		}
		return "<stdin>", data, nil
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		u, err := url.Parse(src)
		if err != nil {
			return "", nil, fmt.Errorf("parsing data source URL: %w", err)
		}
		data, err := l.cache().Fetch(ctx, src)
		if err != nil {
			return "", nil, fmt.Errorf("fetching %s: %w", src, err)
		}
		return u.Path, data, nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", nil, fmt.Errorf("reading data source: %w", err)
	}
	return src, data, nil
}

func (l *Loader) cache() *netcache.Cache {
	if l.Cache == nil {
		l.Cache = netcache.New(netcache.DefaultDir())
		l.Cache.Logger = l.Logger
	}
	return l.Cache
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
