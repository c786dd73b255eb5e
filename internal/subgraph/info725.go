package subgraph

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rewired-gh/dfbuyer/internal/models"
)

// FeedInfo holds the ERC725 metadata a feed NFT carries.
type FeedInfo struct {
	Pair      string
	Timeframe string
	Source    string
}

// Complete reports whether all three fields decoded.
func (i FeedInfo) Complete() bool {
	return i.Pair != "" && i.Timeframe != "" && i.Source != ""
}

var (
	pairKey      = Key725("pair")
	timeframeKey = Key725("timeframe")
	sourceKey    = Key725("source")
)

// Key725 returns the ERC725 data key for name: keccak256 of its UTF-8 bytes.
func Key725(name string) string {
	return crypto.Keccak256Hash([]byte(name)).Hex()
}

// Value725 hex-encodes a string value the way feed NFTs store it.
func Value725(value string) string {
	return hexutil.Encode([]byte(value))
}

// DecodeInfo725 extracts pair, timeframe and source from nftData entries.
// Undecodable values are treated as missing.
func DecodeInfo725(items []nftDataItem) FeedInfo {
	var info FeedInfo
	for _, it := range items {
		raw, err := hexutil.Decode(it.Value)
		if err != nil {
			continue
		}
		switch strings.ToLower(it.Key) {
		case pairKey:
			info.Pair = string(raw)
		case timeframeKey:
			info.Timeframe = string(raw)
		case sourceKey:
			info.Source = string(raw)
		}
	}
	return info
}

// Matcher applies MarketFilters to decoded feeds.
type Matcher struct {
	pairs      map[string]struct{}
	timeframes map[string]struct{}
	sources    map[string]struct{}
	owners     map[string]struct{}
}

// NewMatcher parses the comma lists in filters. Owner entries must be hex
// addresses.
func NewMatcher(filters models.MarketFilters) (*Matcher, error) {
	owners, err := ParseAddressList(filters.Owners)
	if err != nil {
		return nil, err
	}
	m := &Matcher{
		pairs:      splitList(filters.Pairs),
		timeframes: splitList(filters.Timeframes),
		sources:    splitList(filters.Sources),
	}
	if len(owners) > 0 {
		m.owners = make(map[string]struct{}, len(owners))
		for _, o := range owners {
			m.owners[strings.ToLower(o.Hex())] = struct{}{}
		}
	}
	return m, nil
}

// Match reports whether a feed with info owned by owner passes every filter.
func (m *Matcher) Match(info FeedInfo, owner string) bool {
	return allowed(m.pairs, info.Pair) &&
		allowed(m.timeframes, info.Timeframe) &&
		allowed(m.sources, info.Source) &&
		allowed(m.owners, owner)
}

func allowed(set map[string]struct{}, v string) bool {
	if len(set) == 0 {
		return true
	}
	_, ok := set[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

func splitList(s string) map[string]struct{} {
	var set map[string]struct{}
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if set == nil {
			set = make(map[string]struct{})
		}
		set[part] = struct{}{}
	}
	return set
}

// ParseAddressList parses a comma separated list of hex addresses.
func ParseAddressList(s string) ([]common.Address, error) {
	var out []common.Address
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !common.IsHexAddress(part) {
			return nil, fmt.Errorf("invalid owner address %q", part)
		}
		out = append(out, common.HexToAddress(part))
	}
	return out, nil
}
