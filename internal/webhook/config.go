package webhook

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/mattjoyce/qiwigo/internal/auth"
	"github.com/mattjoyce/qiwigo/internal/config"
)

// FromGlobalConfig converts the loaded configuration to a server Config.
func FromGlobalConfig(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("config is nil")
	}
	wc := cfg.Webhooks

	out := Config{
		Listen:          orDefault(wc.Listen, DefaultListen),
		TransactionPath: orDefault(wc.TransactionPath, DefaultTransactionPath),
		BillPath:        orDefault(wc.BillPath, DefaultBillPath),
		TrustProxy:      wc.TrustProxy,
		TransactionKey:  wc.TransactionKey,
		BillSecret:      cfg.P2P.SecretKey,
	}

	allowed := wc.AllowedIPs
	if allowed == nil {
		allowed = DefaultAllowedNetworks
	}
	networks, err := ParseNetworks(allowed)
	if err != nil {
		return Config{}, err
	}
	out.AllowedNetworks = networks

	size, err := parseMaxBodySize(wc.MaxBodySize)
	if err != nil {
		return Config{}, fmt.Errorf("webhooks: invalid max_body_size %q: %w", wc.MaxBodySize, err)
	}
	out.MaxBodySize = size

	if wc.MetricsToken != "" {
		out.MetricsTokens = []auth.TokenConfig{{Token: wc.MetricsToken, Scopes: []string{auth.ScopeMetrics}}}
	}
	return out, nil
}

// ParseNetworks parses CIDR prefixes or bare addresses. "*" allows every
// address and yields an empty list.
func ParseNetworks(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
			continue
		case entry == "*":
			return nil, nil
		case strings.Contains(entry, "/"):
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("webhooks: invalid allowed network %q: %w", entry, err)
			}
			out = append(out, p.Masked())
		default:
			a, err := netip.ParseAddr(entry)
			if err != nil {
				return nil, fmt.Errorf("webhooks: invalid allowed address %q: %w", entry, err)
			}
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// parseMaxBodySize parses size strings like "1MB", "512KB" or "1048576".
// Returns DefaultMaxBodySize if empty.
func parseMaxBodySize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		factor int64
	}{
		{"KB", 1 << 10},
		{"MB", 1 << 20},
		{"GB", 1 << 30},
	} {
		if strings.HasSuffix(upper, unit.suffix) {
			multiplier = unit.factor
			upper = strings.TrimSuffix(upper, unit.suffix)
			break
		}
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
