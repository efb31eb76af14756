// Package prefs holds the persistent key-value configuration for the
// service: the target sheet, the package whitelist, the category list and
// the recency lists used by the manual-entry flow.
package prefs

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/viper"
)

const (
	keySheetID          = "sheet_id"
	keySheetTab         = "sheet_tab"
	keyWhitelist        = "whitelist"
	keyCategories       = "categories"
	keyRecentCurrencies = "recent_currencies"
	keyRecentCategories = "recent_categories"
	keyPrivacyAccepted  = "privacy_accepted"

	// maxRecencyEntries bounds the recency lists.
	maxRecencyEntries = 10

	// recentCategoryDefaults is how many categories seed the recent list
	// before the user has picked any.
	recentCategoryDefaults = 5
)

var defaultCategories = []string{"Food", "Transport", "Shopping", "Bills", "Entertainment", "Health", "Other"}

var defaultCurrencies = []string{"USD", "EUR", "GBP"}

// Prefs is a file-backed preference store. All setters persist
// immediately. Safe for concurrent use.
type Prefs struct {
	mu sync.Mutex
	v  *viper.Viper
}

// New opens the preference file at path, creating it with defaults when it
// does not exist yet.
func New(path string) (*Prefs, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault(keySheetID, "")
	v.SetDefault(keySheetTab, "")
	v.SetDefault(keyWhitelist, []string{})
	v.SetDefault(keyCategories, defaultCategories)
	v.SetDefault(keyRecentCurrencies, defaultCurrencies)
	v.SetDefault(keyPrivacyAccepted, false)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read preferences: %w", err)
		}
		if err := v.WriteConfigAs(path); err != nil {
			return nil, fmt.Errorf("create preferences: %w", err)
		}
	}

	return &Prefs{v: v}, nil
}

// SheetID returns the configured remote spreadsheet ID, empty when unset.
func (p *Prefs) SheetID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.GetString(keySheetID)
}

// SetSheetID stores the remote spreadsheet ID.
func (p *Prefs) SetSheetID(id string) error {
	return p.set(keySheetID, id)
}

// SheetTab returns the configured tab name, empty meaning "first sheet".
func (p *Prefs) SheetTab() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.GetString(keySheetTab)
}

// SetSheetTab stores the tab name.
func (p *Prefs) SetSheetTab(tab string) error {
	return p.set(keySheetTab, tab)
}

// RangePrefix returns the range prefix for the configured tab, e.g.
// "Sheet1!", or "" when the first sheet is used.
func (p *Prefs) RangePrefix() string {
	tab := p.SheetTab()
	if tab == "" {
		return ""
	}
	return tab + "!"
}

// Whitelist returns the set of package names whose notifications are
// captured.
func (p *Prefs) Whitelist() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.GetStringSlice(keyWhitelist)
}

// IsWhitelisted reports whether the package is in the capture whitelist.
func (p *Prefs) IsWhitelisted(packageName string) bool {
	for _, pkg := range p.Whitelist() {
		if pkg == packageName {
			return true
		}
	}
	return false
}

// AddToWhitelist adds a package to the capture whitelist.
func (p *Prefs) AddToWhitelist(packageName string) error {
	if p.IsWhitelisted(packageName) {
		return nil
	}
	return p.set(keyWhitelist, append(p.Whitelist(), packageName))
}

// RemoveFromWhitelist removes a package from the capture whitelist.
func (p *Prefs) RemoveFromWhitelist(packageName string) error {
	current := p.Whitelist()
	updated := make([]string, 0, len(current))
	for _, pkg := range current {
		if pkg != packageName {
			updated = append(updated, pkg)
		}
	}
	return p.set(keyWhitelist, updated)
}

// Categories returns the ordered category list.
func (p *Prefs) Categories() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.GetStringSlice(keyCategories)
}

// SetCategories replaces the category list.
func (p *Prefs) SetCategories(categories []string) error {
	return p.set(keyCategories, categories)
}

// RecentCurrencies returns the currency recency list, most recent first.
func (p *Prefs) RecentCurrencies() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.GetStringSlice(keyRecentCurrencies)
}

// RecentCategories returns the category recency list, most recent first.
// Before the user has picked any it defaults to the first few categories.
func (p *Prefs) RecentCategories() []string {
	p.mu.Lock()
	stored := p.v.GetStringSlice(keyRecentCategories)
	p.mu.Unlock()
	if len(stored) > 0 {
		return stored
	}
	categories := p.Categories()
	if len(categories) > recentCategoryDefaults {
		categories = categories[:recentCategoryDefaults]
	}
	return categories
}

// UpdateCurrencyRecency moves a currency to the front of its recency list.
func (p *Prefs) UpdateCurrencyRecency(currency string) error {
	return p.set(keyRecentCurrencies, moveToFront(p.RecentCurrencies(), currency))
}

// UpdateCategoryRecency moves a category to the front of its recency list.
func (p *Prefs) UpdateCategoryRecency(category string) error {
	return p.set(keyRecentCategories, moveToFront(p.RecentCategories(), category))
}

// PrivacyAccepted reports whether the one-time privacy consent was given.
func (p *Prefs) PrivacyAccepted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.GetBool(keyPrivacyAccepted)
}

// SetPrivacyAccepted records the privacy consent flag.
func (p *Prefs) SetPrivacyAccepted(accepted bool) error {
	return p.set(keyPrivacyAccepted, accepted)
}

func (p *Prefs) set(key string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.v.Set(key, value)
	if err := p.v.WriteConfig(); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}

// moveToFront puts item first in list, dropping duplicates and capping the
// list at maxRecencyEntries.
func moveToFront(list []string, item string) []string {
	updated := make([]string, 0, len(list)+1)
	updated = append(updated, item)
	for _, existing := range list {
		if existing != item {
			updated = append(updated, existing)
		}
	}
	if len(updated) > maxRecencyEntries {
		updated = updated[:maxRecencyEntries]
	}
	return updated
}
