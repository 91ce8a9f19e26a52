// Package dashboard keeps the signed-in owner's restaurants and menus in
// sync with the backend.
package dashboard

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"flavorfind/internal/data"
	"flavorfind/internal/logging"
)

const (
	PromptDeleteRestaurant = "Are you sure you want to delete this restaurant and all its menu items?"
	PromptDeleteMenuItem   = "Are you sure you want to delete this menu item?"
)

// Confirm asks the user a yes/no question. A nil Confirm declines.
type Confirm func(prompt string) bool

type Status string

const (
	StatusUnloaded Status = "unloaded"
	StatusLoading  Status = "loading"
	StatusLoaded   Status = "loaded"
	StatusFailed   Status = "failed"
)

// MenuSlot is one restaurant's menu. Items keep their last loaded value
// while a reload is running or after it failed.
type MenuSlot struct {
	Status Status
	Items  []data.MenuItem
	Err    error
}

type State struct {
	Loading     bool
	Restaurants []data.Restaurant
	Menus       map[string]MenuSlot
}

// Menu returns the slot for a restaurant, unloaded when there is none.
func (s State) Menu(restaurantID string) MenuSlot {
	if slot, ok := s.Menus[restaurantID]; ok {
		return slot
	}
	return MenuSlot{Status: StatusUnloaded}
}

type MenuItemInput struct {
	Name        string
	Description string
	PriceText   string
}

// Orchestrator owns one session's dashboard state. Menu loads run in the
// background on the orchestrator's own context so they outlive the request
// that started them; Close cancels them.
type Orchestrator struct {
	user        data.User
	restaurants *data.Collection[data.Restaurant]
	items       *data.Collection[data.MenuItem]
	log         *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	listSeq  uint64 // last restaurant list fetch started
	listDone uint64 // newest list fetch whose result was applied
	listRuns int    // list fetches in flight
	seq      uint64
	gen      map[string]uint64 // restaurant id -> generation of its current menu task
	inflight int
	idle     chan struct{} // closed when inflight drops to zero

	changes chan struct{}
}

func New(client *data.Client, user data.User, log *logrus.Entry) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Orchestrator{
		user:        user,
		restaurants: client.Restaurants(),
		items:       client.MenuItems(),
		log:         logging.OrDiscard(log).WithField("user", user.ID),
		ctx:         ctx,
		cancel:      cancel,
		state:       State{Menus: map[string]MenuSlot{}},
		gen:         map[string]uint64{},
		idle:        idle,
		changes:     make(chan struct{}, 1),
	}
}

func (o *Orchestrator) User() data.User { return o.user }

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := State{
		Loading:     o.state.Loading,
		Restaurants: append([]data.Restaurant(nil), o.state.Restaurants...),
		Menus:       make(map[string]MenuSlot, len(o.state.Menus)),
	}
	for id, slot := range o.state.Menus {
		slot.Items = append([]data.MenuItem(nil), slot.Items...)
		out.Menus[id] = slot
	}
	return out
}

// Changes signals after every state update. Signals coalesce; read Snapshot
// after each one.
func (o *Orchestrator) Changes() <-chan struct{} { return o.changes }

func (o *Orchestrator) notify() {
	select {
	case o.changes <- struct{}{}:
	default:
	}
}

// Wait blocks until no menu load is in flight or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	idle := o.idle
	o.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels in-flight loads; their results are discarded.
func (o *Orchestrator) Close() {
	o.cancel()
	o.notify()
}

func (o *Orchestrator) beginLocked() {
	if o.inflight == 0 {
		o.idle = make(chan struct{})
	}
	o.inflight++
}

func (o *Orchestrator) endLocked() {
	o.inflight--
	if o.inflight == 0 {
		close(o.idle)
	}
}

func (o *Orchestrator) listedLocked(id string) bool {
	for _, r := range o.state.Restaurants {
		if r.ID == id {
			return true
		}
	}
	return false
}

// startMenuLocked registers a new menu task for id and returns its generation.
func (o *Orchestrator) startMenuLocked(id string) uint64 {
	o.seq++
	o.gen[id] = o.seq
	slot := o.state.Menus[id]
	slot.Status = StatusLoading
	o.state.Menus[id] = slot
	o.beginLocked()
	return o.seq
}

// RefreshRestaurants reloads the owner's restaurants, newest first, then
// starts a menu load for each of them. It returns once the list is in; the
// menu loads finish in the background.
func (o *Orchestrator) RefreshRestaurants(ctx context.Context) error {
	if err := o.ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	o.listSeq++
	ls := o.listSeq
	o.listRuns++
	o.state.Loading = true
	o.mu.Unlock()
	o.notify()

	q := data.Where("owner", o.user.ID).OrderBy(data.Desc("createdAt")).With("owner")
	list, err := o.restaurants.Find(ctx, q)
	if err != nil {
		o.log.WithError(err).Error("failed to load restaurants")
		o.mu.Lock()
		o.endListLocked()
		o.mu.Unlock()
		o.notify()
		return err
	}

	o.mu.Lock()
	o.endListLocked()
	if o.ctx.Err() != nil {
		o.state.Loading = false
		o.mu.Unlock()
		o.notify()
		return o.ctx.Err()
	}
	if ls < o.listDone {
		o.mu.Unlock()
		o.notify()
		o.log.WithField("count", len(list)).Debug("stale restaurant list dropped")
		return nil
	}
	o.listDone = ls
	o.state.Restaurants = list
	listed := make(map[string]bool, len(list))
	for _, r := range list {
		listed[r.ID] = true
	}
	for id := range o.state.Menus {
		if !listed[id] {
			delete(o.state.Menus, id)
			delete(o.gen, id)
		}
	}
	gens := make([]uint64, len(list))
	for i, r := range list {
		gens[i] = o.startMenuLocked(r.ID)
	}
	o.mu.Unlock()
	o.notify()

	o.log.WithField("count", len(list)).Debug("restaurants loaded")
	for i, r := range list {
		go func(id string, g uint64) { _ = o.loadMenu(id, g) }(r.ID, gens[i])
	}
	return nil
}

// endListLocked settles one list fetch; loading clears once none is left.
func (o *Orchestrator) endListLocked() {
	o.listRuns--
	o.state.Loading = o.listRuns > 0
}

// RefreshMenuItems reloads one restaurant's menu and waits for it. Unknown
// restaurants are ignored.
func (o *Orchestrator) RefreshMenuItems(ctx context.Context, restaurantID string) error {
	if err := o.ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	if !o.listedLocked(restaurantID) {
		o.mu.Unlock()
		return nil
	}
	g := o.startMenuLocked(restaurantID)
	o.mu.Unlock()
	o.notify()

	done := make(chan error, 1)
	go func() { done <- o.loadMenu(restaurantID, g) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadMenu fetches one menu and stores it unless a newer task for the same
// restaurant started meanwhile or the restaurant left the list.
func (o *Orchestrator) loadMenu(id string, g uint64) error {
	q := data.Where("restaurant", id).OrderBy(data.Asc("createdAt"))
	items, err := o.items.Find(o.ctx, q)

	o.mu.Lock()
	defer func() {
		o.endLocked()
		o.mu.Unlock()
		o.notify()
	}()

	if o.ctx.Err() != nil || o.gen[id] != g {
		o.log.WithField("restaurant", id).Debug("stale menu result dropped")
		return err
	}
	if err != nil {
		o.log.WithError(err).WithField("restaurant", id).Error("failed to load menu items")
		slot := o.state.Menus[id]
		o.state.Menus[id] = MenuSlot{Status: StatusFailed, Items: slot.Items, Err: err}
		return err
	}
	o.state.Menus[id] = MenuSlot{Status: StatusLoaded, Items: items}
	return nil
}

func (o *Orchestrator) dropRestaurant(id string) {
	o.mu.Lock()
	delete(o.state.Menus, id)
	delete(o.gen, id)
	kept := o.state.Restaurants[:0:0]
	for _, r := range o.state.Restaurants {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	o.state.Restaurants = kept
	o.mu.Unlock()
	o.notify()
}

// CreateRestaurant adds a restaurant owned by the user and reloads the list.
// A blank name is ignored: it returns false and no error.
func (o *Orchestrator) CreateRestaurant(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, nil
	}
	if _, err := o.restaurants.Create(ctx, data.Fields{"name": name, "owner": o.user.ID}); err != nil {
		o.log.WithError(err).Error("failed to create restaurant")
		return false, err
	}
	_ = o.RefreshRestaurants(ctx)
	return true, nil
}

// DeleteRestaurant deletes a restaurant with its menu after confirmation.
func (o *Orchestrator) DeleteRestaurant(ctx context.Context, id string, confirm Confirm) (bool, error) {
	if confirm == nil || !confirm(PromptDeleteRestaurant) {
		return false, nil
	}
	if err := o.restaurants.Delete(ctx, id); err != nil {
		o.log.WithError(err).WithField("restaurant", id).Error("failed to delete restaurant")
		return false, err
	}
	o.dropRestaurant(id)
	_ = o.RefreshRestaurants(ctx)
	return true, nil
}

// CreateMenuItem adds an item to a restaurant and reloads that menu. A blank
// name or a price that is not a number is ignored.
func (o *Orchestrator) CreateMenuItem(ctx context.Context, restaurantID string, in MenuItemInput) (bool, error) {
	name := strings.TrimSpace(in.Name)
	priceText := strings.TrimSpace(in.PriceText)
	if name == "" || priceText == "" {
		return false, nil
	}
	price, err := strconv.ParseFloat(priceText, 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
		return false, nil
	}
	fields := data.Fields{
		"name":        name,
		"description": strings.TrimSpace(in.Description),
		"price":       price,
		"restaurant":  restaurantID,
		"owner":       o.user.ID,
	}
	if _, err := o.items.Create(ctx, fields); err != nil {
		o.log.WithError(err).WithField("restaurant", restaurantID).Error("failed to create menu item")
		return false, err
	}
	_ = o.RefreshMenuItems(ctx, restaurantID)
	return true, nil
}

// DeleteMenuItem deletes one item after confirmation and reloads its menu.
func (o *Orchestrator) DeleteMenuItem(ctx context.Context, itemID, restaurantID string, confirm Confirm) (bool, error) {
	if confirm == nil || !confirm(PromptDeleteMenuItem) {
		return false, nil
	}
	if err := o.items.Delete(ctx, itemID); err != nil {
		o.log.WithError(err).WithField("item", itemID).Error("failed to delete menu item")
		return false, err
	}
	_ = o.RefreshMenuItems(ctx, restaurantID)
	return true, nil
}
