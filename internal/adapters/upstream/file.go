package upstream

import (
	"context"
	"errors"

	"github.com/melih/lighthouse-migrator/internal/adapters/filetx"
	"github.com/melih/lighthouse-migrator/internal/core/domain"
	"go.uber.org/zap"
)

// File is a proxy configuration file. Every method is one locked
// read-transform-write cycle over the whole file.
type File struct {
	path string
	log  *zap.Logger
}

func NewFile(path string, log *zap.Logger) *File {
	if log == nil {
		log = zap.NewNop()
	}
	return &File{path: path, log: log}
}

func (f *File) Path() string { return f.path }

func (f *File) modify(op string, fn func(string) (string, error)) error {
	_, err := filetx.Update(f.path, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, domain.ConfigIOError(op, errors.New("proxy config "+f.path+" does not exist"))
		}
		out, err := fn(string(current))
		if err != nil {
			return nil, err
		}
		if err := Validate(out); err != nil {
			return nil, domain.ConfigIOError(op, err)
		}
		return []byte(out), nil
	})
	return err
}

func (f *File) AddUpstreamGroup(_ context.Context, group domain.UpstreamGroup) error {
	err := f.modify("add upstream "+group.Name, func(conf string) (string, error) {
		return AddGroup(conf, group.Name, group.Servers)
	})
	if err != nil {
		return err
	}
	f.log.Info("upstream group added", zap.String("group", group.Name), zap.Strings("servers", group.Servers))
	return nil
}

func (f *File) RemoveUpstreamGroup(_ context.Context, name, replacement string) error {
	err := f.modify("remove upstream "+name, func(conf string) (string, error) {
		return RemoveGroup(conf, name, replacement)
	})
	if err != nil {
		return err
	}
	f.log.Info("upstream group removed", zap.String("group", name), zap.String("replacement", replacement))
	return nil
}

func (f *File) ReplaceProxyPass(_ context.Context, match, replacement string) (int, error) {
	if err := checkName(match); err != nil {
		return 0, err
	}
	if err := checkName(replacement); err != nil {
		return 0, err
	}
	var n int
	err := f.modify("replace proxy_pass "+match, func(conf string) (string, error) {
		var out string
		out, n = ReplaceProxyPass(conf, match, replacement)
		return out, nil
	})
	if err != nil {
		return 0, err
	}
	f.log.Info("proxy_pass rewritten", zap.String("from", match), zap.String("to", replacement), zap.Int("count", n))
	return n, nil
}

// Groups lists the upstream groups currently in the file.
func (f *File) Groups() ([]domain.UpstreamGroup, error) {
	data, err := filetx.Read(f.path)
	if err != nil {
		return nil, err
	}
	return Groups(string(data)), nil
}

// Redirect moves traffic for the proxy from the source container to the target.
// The proxy routes whole containers, so the endpoint only names the change.
func (f *File) Redirect(ctx context.Context, ep domain.Endpoint, from *domain.Backend, to domain.Backend) (domain.Route, error) {
	if from == nil {
		return domain.Route{}, domain.ValidationError("redirect "+ep.Function, errors.New("proxy redirect needs the source backend"))
	}
	n, err := f.ReplaceProxyPass(ctx, from.Addr(), to.Addr())
	if err != nil {
		return domain.Route{}, err
	}
	if n == 0 {
		return domain.Route{}, domain.ValidationError("redirect "+ep.Function,
			errors.New("no proxy_pass targets "+from.Addr()))
	}
	return domain.Route{
		Key: domain.RouteKey(ep.Function, to.Host),
		URL: "http://" + to.Addr(),
	}, nil
}

// Purge points every proxy_pass aimed at host to fallback and drops host from
// the upstream groups. nginx rejects a location without a target, so a
// fallback is required.
func (f *File) Purge(_ context.Context, host string, fallback *domain.Backend) (int, error) {
	if fallback == nil {
		return 0, domain.ValidationError("purge "+host, errors.New("proxy routing needs a fallback backend"))
	}
	var passes, servers int
	err := f.modify("purge "+host, func(conf string) (string, error) {
		out, n := ReplaceHostProxyPass(conf, host, fallback.Addr())
		passes = n
		out, n, err := RemoveHostServers(out, host)
		if err != nil {
			return "", err
		}
		servers = n
		return out, nil
	})
	if err != nil {
		return 0, err
	}
	f.log.Info("proxy config purged",
		zap.String("host", host),
		zap.String("fallback", fallback.Addr()),
		zap.Int("proxy_pass", passes),
		zap.Int("servers", servers),
	)
	return passes + servers, nil
}

func (f *File) References(_ context.Context, host string) (bool, error) {
	data, err := filetx.Read(f.path)
	if err != nil {
		return false, err
	}
	return References(string(data), host), nil
}
