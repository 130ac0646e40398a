package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/castmarket/fidmarket/internal/domain"
)

// IdentitySource is the external username-search collaborator.
type IdentitySource interface {
	SearchByMatch(ctx context.Context, query string, limit int) ([]domain.Profile, error)
	ProfileByFid(ctx context.Context, fid uint64) (domain.Profile, error)
	ProfilesByFids(ctx context.Context, fids []uint64) (map[uint64]domain.Profile, error)
	LatestFid(ctx context.Context) (uint64, error)
}

// ListingsQuery selects a page of the listing collection.
type ListingsQuery struct {
	// Sort is "fid" (default), "-fid", "minFee", or "-minFee".
	Sort string
	// Limit is the page size; defaults to 20, capped at 100.
	Limit int
	// Cursor is an opaque token from a previous page, empty for the first.
	Cursor string
	// Query switches to identity search when non-empty.
	Query string
	// OnlyListing restricts the page to active listings even without a
	// price sort.
	OnlyListing bool
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// QueryService is the read path: cache-aside single-listing reads and the
// multi-strategy paginator over the listing collection. It never writes
// except to populate the per-fid cache.
type QueryService struct {
	listings domain.ListingStore
	cache    domain.ListingCache
	identity IdentitySource
	prices   *PriceService
	logger   *slog.Logger
}

// NewQueryService creates a QueryService with all required dependencies.
func NewQueryService(
	listings domain.ListingStore,
	cache domain.ListingCache,
	identity IdentitySource,
	prices *PriceService,
	logger *slog.Logger,
) *QueryService {
	return &QueryService{
		listings: listings,
		cache:    cache,
		identity: identity,
		prices:   prices,
		logger:   logger,
	}
}

// GetListing returns the active listing for a fid, enriched with profile and
// fiat price data. The enriched snapshot is cached without an expiry; the
// reconciler invalidates it on every mutation of the fid.
func (s *QueryService) GetListing(ctx context.Context, fid uint64) (domain.ListingView, error) {
	view, err := s.cache.Get(ctx, fid)
	if err == nil {
		return view, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "query: listing cache read failed",
			slog.Uint64("fid", fid),
			slog.String("error", err.Error()),
		)
	}

	listing, err := s.listings.GetByFid(ctx, fid)
	if err != nil {
		return domain.ListingView{}, err
	}
	if !listing.Active(time.Now().UTC()) {
		return domain.ListingView{}, domain.ErrNotFound
	}

	view = s.enrich(ctx, listing)

	if err := s.cache.Set(ctx, view); err != nil {
		s.logger.WarnContext(ctx, "query: listing cache write failed",
			slog.Uint64("fid", fid),
			slog.String("error", err.Error()),
		)
	}
	return view, nil
}

// GetListings returns one page of listing views plus the cursor for the next
// page. nextCursor is empty whenever the page came back shorter than the
// limit. The strategy is chosen from the query: identity search when Query
// is set, price-sorted active listings for fee sorts or OnlyListing, and a
// dense fid range walk otherwise.
func (s *QueryService) GetListings(ctx context.Context, q ListingsQuery) ([]domain.ListingView, string, error) {
	if q.Limit <= 0 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}

	switch {
	case q.Query != "":
		return s.searchPage(ctx, q)
	case q.Sort == string(domain.SortFeeAsc) || q.Sort == string(domain.SortFeeDesc) || q.OnlyListing:
		return s.buyNowPage(ctx, q)
	case q.Sort == "-fid":
		return s.denseRangePage(ctx, q, false)
	default:
		return s.denseRangePage(ctx, q, true)
	}
}

// searchPage delegates fid resolution to the identity-search collaborator
// and joins each hit against the listing store. The result set is bounded by
// the search service, so there is no cursor.
func (s *QueryService) searchPage(ctx context.Context, q ListingsQuery) ([]domain.ListingView, string, error) {
	profiles, err := s.identity.SearchByMatch(ctx, q.Query, q.Limit)
	if err != nil {
		return nil, "", fmt.Errorf("query: identity search: %w", err)
	}

	fids := make([]uint64, len(profiles))
	for i, p := range profiles {
		fids[i] = p.Fid
	}
	listings, err := s.listings.GetByFids(ctx, fids)
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	views := make([]domain.ListingView, 0, len(profiles))
	for _, p := range profiles {
		views = append(views, s.view(ctx, p.Fid, p, listings, now))
	}
	return views, "", nil
}

// buyNowPage serves the price-sorted strategy over active listings only,
// offset-paginated with cursor "{offset}-{lastFid}".
func (s *QueryService) buyNowPage(ctx context.Context, q ListingsQuery) ([]domain.ListingView, string, error) {
	offset := parseCursorOffset(q.Cursor)

	sort := domain.SortFeeAsc
	if q.Sort == string(domain.SortFeeDesc) {
		sort = domain.SortFeeDesc
	}

	listings, err := s.listings.ListActive(ctx, domain.ActiveQuery{
		Sort:   sort,
		Limit:  q.Limit,
		Offset: int(offset),
		Now:    time.Now().UTC(),
	})
	if err != nil {
		return nil, "", err
	}

	fids := make([]uint64, len(listings))
	for i, l := range listings {
		fids[i] = l.Fid
	}
	profiles := s.profilesFor(ctx, fids)

	views := make([]domain.ListingView, 0, len(listings))
	for _, l := range listings {
		listing := l
		views = append(views, domain.ListingView{
			Fid:      l.Fid,
			Profile:  profiles[l.Fid],
			Listing:  &listing,
			PriceUSD: s.prices.PaddedWeiToUSD(ctx, l.MinFee),
		})
	}

	next := ""
	if len(listings) == q.Limit {
		lastFid := listings[len(listings)-1].Fid
		next = fmt.Sprintf("%d-%d", offset+uint64(q.Limit), lastFid)
	}
	return views, next, nil
}

// denseRangePage walks a contiguous fid range in either direction and joins
// identity and listing data per fid, whether or not a listing exists. The
// cursor in both directions is "{nextFid}-{nextFid}".
func (s *QueryService) denseRangePage(ctx context.Context, q ListingsQuery, ascending bool) ([]domain.ListingView, string, error) {
	// The registry's latest fid bounds the walk in both directions: it is
	// the descending start and the ascending end.
	latest, err := s.identity.LatestFid(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("query: latest fid: %w", err)
	}

	var start uint64
	if q.Cursor != "" {
		start = parseCursorOffset(q.Cursor)
	}
	// A missing or malformed cursor restarts the walk from its natural end.
	if start == 0 {
		if ascending {
			start = 1
		} else {
			start = latest
		}
	}
	if ascending && start > latest {
		return nil, "", nil
	}
	if !ascending && start > latest {
		start = latest
	}

	fids := make([]uint64, 0, q.Limit)
	if ascending {
		for fid := start; fid <= latest && len(fids) < q.Limit; fid++ {
			fids = append(fids, fid)
		}
	} else {
		for fid := start; fid > 0 && len(fids) < q.Limit; fid-- {
			fids = append(fids, fid)
		}
	}

	// Identity and listing data come from different systems; fetch both
	// halves of the join concurrently.
	var (
		profiles map[uint64]domain.Profile
		listings map[uint64]domain.Listing
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profiles, err = s.identity.ProfilesByFids(gctx, fids)
		if err != nil {
			// The dense walk still renders listing rows without profiles.
			s.logger.WarnContext(gctx, "query: profile batch failed",
				slog.String("error", err.Error()),
			)
			profiles = map[uint64]domain.Profile{}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		listings, err = s.listings.GetByFids(gctx, fids)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	views := make([]domain.ListingView, 0, len(fids))
	for _, fid := range fids {
		view := s.view(ctx, fid, profiles[fid], listings, now)
		views = append(views, view)
	}

	next := ""
	if len(fids) == q.Limit {
		lastFid := fids[len(fids)-1]
		if ascending && lastFid < latest {
			next = fmt.Sprintf("%d-%d", lastFid+1, lastFid+1)
		} else if !ascending && lastFid > 1 {
			next = fmt.Sprintf("%d-%d", lastFid-1, lastFid-1)
		}
	}
	return views, next, nil
}

// enrich builds the cached view for a single active listing. The profile
// lookup is best-effort; a bare view with price data is still useful.
func (s *QueryService) enrich(ctx context.Context, listing domain.Listing) domain.ListingView {
	profile, err := s.identity.ProfileByFid(ctx, listing.Fid)
	if err != nil {
		s.logger.WarnContext(ctx, "query: profile lookup failed",
			slog.Uint64("fid", listing.Fid),
			slog.String("error", err.Error()),
		)
		profile = domain.Profile{Fid: listing.Fid}
	}
	return domain.ListingView{
		Fid:      listing.Fid,
		Profile:  profile,
		Listing:  &listing,
		PriceUSD: s.prices.PaddedWeiToUSD(ctx, listing.MinFee),
	}
}

// view assembles one result row. Inactive listings appear without a listing
// payload, same as fids that were never listed.
func (s *QueryService) view(ctx context.Context, fid uint64, profile domain.Profile, listings map[uint64]domain.Listing, now time.Time) domain.ListingView {
	if profile.Fid == 0 {
		profile.Fid = fid
	}
	v := domain.ListingView{Fid: fid, Profile: profile}
	if l, ok := listings[fid]; ok && l.Active(now) {
		listing := l
		v.Listing = &listing
		v.PriceUSD = s.prices.PaddedWeiToUSD(ctx, l.MinFee)
	}
	return v
}

// profilesFor fetches profiles best-effort; a failed identity call degrades
// to bare listings rather than failing the page.
func (s *QueryService) profilesFor(ctx context.Context, fids []uint64) map[uint64]domain.Profile {
	profiles, err := s.identity.ProfilesByFids(ctx, fids)
	if err != nil {
		s.logger.WarnContext(ctx, "query: profile batch failed",
			slog.String("error", err.Error()),
		)
		return map[uint64]domain.Profile{}
	}
	return profiles
}

// parseCursorOffset extracts the leading offset from a "{offset}-{lastFid}"
// cursor. A malformed cursor reads as offset zero, restarting the walk.
func parseCursorOffset(cursor string) uint64 {
	head, _, _ := strings.Cut(cursor, "-")
	offset, err := strconv.ParseUint(head, 10, 64)
	if err != nil {
		return 0
	}
	return offset
}
