package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/jsonc"
	"go.uber.org/zap"
)

// Classification по умолчанию, если в конфиге пусто.
var fallbackClassifications = []string{
	"Техническая неисправность",
	"Нарушение безопасности",
	"Другое",
}

// Choice: элемент для клавиатуры выбора.
type Choice struct {
	Key      string
	Name     string
	Priority int
}

// Store держит конфиг в памяти и пишет его на диск атомарно.
type Store struct {
	path string
	log  *zap.SugaredLogger

	mu  sync.RWMutex
	doc *Document
}

// Open читает config.json (комментарии допускаются). Отсутствующий файл = пустой конфиг.
func Open(path string, log *zap.SugaredLogger) (*Store, error) {
	s := &Store{path: path, log: log}
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Warnw("bot config not found, starting with empty document", "path", path)
		s.doc = &Document{}
	case err != nil:
		return nil, fmt.Errorf("read bot config: %w", err)
	default:
		doc, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		s.doc = doc
	}
	s.doc.normalize()
	return s, nil
}

// Parse разбирает jsonc-документ.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(jsonc.ToJSON(raw), &doc); err != nil {
		return nil, fmt.Errorf("parse bot config: %w", err)
	}
	doc.normalize()
	return &doc, nil
}

func (d *Document) normalize() {
	if d.Organizations == nil {
		d.Organizations = map[string]*Organization{}
	}
	if d.Classifications == nil {
		d.Classifications = map[string]*Classification{}
	}
	if d.Controllers == nil {
		d.Controllers = map[string]*SceneText{}
	}
}

func (d *Document) clone() *Document {
	raw, err := json.Marshal(d)
	if err != nil {
		panic(fmt.Sprintf("settings: clone: %v", err))
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("settings: clone: %v", err))
	}
	out.normalize()
	return &out
}

// Snapshot: глубокая копия, менять можно.
func (s *Store) Snapshot() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.clone()
}

// update применяет fn к копии, сохраняет на диск и только потом подменяет документ.
func (s *Store) update(fn func(d *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func (s *Store) write(d *Document) error {
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bot config: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace bot config: %w", err)
	}
	s.log.Infow("bot config saved", "path", s.path)
	return nil
}

// ---- чтение ----

// VisibleOrganizations отсортированы по приоритету, затем по имени.
func (s *Store) VisibleOrganizations() []Choice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Choice, 0, len(s.doc.Organizations))
	for key, org := range s.doc.Organizations {
		if org.Hidden {
			continue
		}
		out = append(out, Choice{Key: key, Name: org.Name, Priority: org.EffectivePriority()})
	}
	sortChoices(out)
	return out
}

// AllOrganizations включая скрытые, для админки.
func (s *Store) AllOrganizations() []Choice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Choice, 0, len(s.doc.Organizations))
	for key, org := range s.doc.Organizations {
		out = append(out, Choice{Key: key, Name: org.Name, Priority: org.EffectivePriority()})
	}
	sortChoices(out)
	return out
}

func (s *Store) Organization(key string) (Organization, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.doc.Organizations[key]
	if !ok {
		return Organization{}, false
	}
	cp := *org
	cp.Branches = append([]Branch(nil), org.Branches...)
	return cp, true
}

// FindVisibleOrganization ищет по точному имени среди видимых.
func (s *Store) FindVisibleOrganization(name string) (string, Organization, bool) {
	for _, c := range s.VisibleOrganizations() {
		if c.Name == name {
			org, ok := s.Organization(c.Key)
			return c.Key, org, ok
		}
	}
	return "", Organization{}, false
}

// SortedBranches: филиалы по приоритету, затем по имени. Индекс сохраняется.
func SortedBranches(org Organization) []Choice {
	out := make([]Choice, 0, len(org.Branches))
	for i, b := range org.Branches {
		out = append(out, Choice{Key: fmt.Sprint(i), Name: b.Name, Priority: b.EffectivePriority()})
	}
	sortChoices(out)
	return out
}

// Classifications возвращает список или дефолтный набор, если пусто.
func (s *Store) Classifications() []Choice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.doc.Classifications) == 0 {
		out := make([]Choice, 0, len(fallbackClassifications))
		for i, name := range fallbackClassifications {
			out = append(out, Choice{Key: fmt.Sprintf("default_%d", i), Name: name, Priority: DefaultPriority})
		}
		return out
	}
	out := make([]Choice, 0, len(s.doc.Classifications))
	for key, c := range s.doc.Classifications {
		out = append(out, Choice{Key: key, Name: c.Name, Priority: c.EffectivePriority()})
	}
	sortChoices(out)
	return out
}

// ConfiguredClassifications: только то, что реально записано в конфиге, без дефолтов.
func (s *Store) ConfiguredClassifications() []Choice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Choice, 0, len(s.doc.Classifications))
	for key, c := range s.doc.Classifications {
		out = append(out, Choice{Key: key, Name: c.Name, Priority: c.EffectivePriority()})
	}
	sortChoices(out)
	return out
}

func (s *Store) Classification(key string) (Classification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.doc.Classifications[key]
	if !ok {
		return Classification{}, false
	}
	return *c, true
}

// SceneText: пустой текст = нет переопределения.
func (s *Store) SceneText(sceneID string) (SceneText, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.doc.Controllers[sceneID]
	if !ok || st == nil {
		return SceneText{}, false
	}
	cp := *st
	if st.Image != nil {
		img := *st.Image
		cp.Image = &img
	}
	return cp, strings.TrimSpace(cp.Text) != "" || cp.Image != nil
}

func (s *Store) IsAdmin(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.doc.Administrators {
		if id == userID {
			return true
		}
	}
	return false
}

func (s *Store) Administrators() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int64(nil), s.doc.Administrators...)
}

func (s *Store) Email() EmailSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.General.Email
}

// ---- мутации из админки ----

func (s *Store) AddOrganization(name string, priority int) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if err := checkPriority(priority); err != nil {
		return "", err
	}
	key := newKey("org_")
	err := s.update(func(d *Document) error {
		d.Organizations[key] = &Organization{Name: name, Priority: intPtr(priority), Branches: []Branch{}}
		return nil
	})
	return key, err
}

func (s *Store) RenameOrganization(key, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	return s.withOrg(key, func(o *Organization) error {
		o.Name = name
		return nil
	})
}

func (s *Store) SetOrganizationPriority(key string, priority int) error {
	if err := checkPriority(priority); err != nil {
		return err
	}
	return s.withOrg(key, func(o *Organization) error {
		o.Priority = intPtr(priority)
		return nil
	})
}

func (s *Store) SetOrganizationHidden(key string, hidden bool) error {
	return s.withOrg(key, func(o *Organization) error {
		o.Hidden = hidden
		return nil
	})
}

func (s *Store) DeleteOrganization(key string) error {
	return s.update(func(d *Document) error {
		if _, ok := d.Organizations[key]; !ok {
			return ErrNotFound
		}
		delete(d.Organizations, key)
		return nil
	})
}

func (s *Store) AddBranch(orgKey, name string, priority int) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if err := checkPriority(priority); err != nil {
		return err
	}
	return s.withOrg(orgKey, func(o *Organization) error {
		for _, b := range o.Branches {
			if b.Name == name {
				return ErrExists
			}
		}
		o.Branches = append(o.Branches, Branch{Name: name, Priority: intPtr(priority)})
		return nil
	})
}

func (s *Store) SetBranchPriority(orgKey string, idx, priority int) error {
	if err := checkPriority(priority); err != nil {
		return err
	}
	return s.withOrg(orgKey, func(o *Organization) error {
		if idx < 0 || idx >= len(o.Branches) {
			return ErrNotFound
		}
		o.Branches[idx].Priority = intPtr(priority)
		return nil
	})
}

func (s *Store) DeleteBranch(orgKey string, idx int) error {
	return s.withOrg(orgKey, func(o *Organization) error {
		if idx < 0 || idx >= len(o.Branches) {
			return ErrNotFound
		}
		o.Branches = append(o.Branches[:idx], o.Branches[idx+1:]...)
		return nil
	})
}

func (s *Store) AddClassification(name string, priority int) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if err := checkPriority(priority); err != nil {
		return "", err
	}
	key := newKey("class_")
	err := s.update(func(d *Document) error {
		d.Classifications[key] = &Classification{Name: name, Priority: intPtr(priority)}
		return nil
	})
	return key, err
}

func (s *Store) RenameClassification(key, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	return s.withClass(key, func(c *Classification) error {
		c.Name = name
		return nil
	})
}

func (s *Store) SetClassificationPriority(key string, priority int) error {
	if err := checkPriority(priority); err != nil {
		return err
	}
	return s.withClass(key, func(c *Classification) error {
		c.Priority = intPtr(priority)
		return nil
	})
}

func (s *Store) DeleteClassification(key string) error {
	return s.update(func(d *Document) error {
		if _, ok := d.Classifications[key]; !ok {
			return ErrNotFound
		}
		delete(d.Classifications, key)
		return nil
	})
}

// SetSceneText создаёт запись контроллера, если её не было.
func (s *Store) SetSceneText(sceneID, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyName
	}
	return s.update(func(d *Document) error {
		st, ok := d.Controllers[sceneID]
		if !ok || st == nil {
			st = &SceneText{}
			d.Controllers[sceneID] = st
		}
		st.Text = text
		return nil
	})
}

func (s *Store) SetSceneImage(sceneID string, enabled bool, path string) error {
	return s.update(func(d *Document) error {
		st, ok := d.Controllers[sceneID]
		if !ok || st == nil {
			st = &SceneText{}
			d.Controllers[sceneID] = st
		}
		if st.Image == nil {
			st.Image = &SceneImage{}
		}
		st.Image.Enabled = enabled
		if path != "" {
			st.Image.Path = path
		}
		return nil
	})
}

// UpdateEmail меняет smtp-настройки, порт проверяется.
func (s *Store) UpdateEmail(fn func(e *EmailSettings)) error {
	return s.update(func(d *Document) error {
		fn(&d.General.Email)
		if p := d.General.Email.Port; p < 0 || p > 65535 {
			return ErrInvalidPort
		}
		return nil
	})
}

// AddAdministrator возвращает false, если id уже в списке.
func (s *Store) AddAdministrator(id int64) (bool, error) {
	added := false
	err := s.update(func(d *Document) error {
		for _, a := range d.Administrators {
			if a == id {
				return nil
			}
		}
		d.Administrators = append(d.Administrators, id)
		added = true
		return nil
	})
	return added, err
}

func (s *Store) RemoveAdministrator(id int64) (bool, error) {
	removed := false
	err := s.update(func(d *Document) error {
		out := d.Administrators[:0]
		for _, a := range d.Administrators {
			if a == id {
				removed = true
				continue
			}
			out = append(out, a)
		}
		d.Administrators = out
		return nil
	})
	return removed, err
}

func (s *Store) withOrg(key string, fn func(o *Organization) error) error {
	return s.update(func(d *Document) error {
		org, ok := d.Organizations[key]
		if !ok {
			return ErrNotFound
		}
		return fn(org)
	})
}

func (s *Store) withClass(key string, fn func(c *Classification) error) error {
	return s.update(func(d *Document) error {
		c, ok := d.Classifications[key]
		if !ok {
			return ErrNotFound
		}
		return fn(c)
	})
}

func checkPriority(p int) error {
	if p < 0 || p > 10 {
		return ErrInvalidPriority
	}
	return nil
}

func newKey(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func sortChoices(cs []Choice) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Priority != cs[j].Priority {
			return cs[i].Priority < cs[j].Priority
		}
		if cs[i].Name != cs[j].Name {
			return cs[i].Name < cs[j].Name
		}
		return cs[i].Key < cs[j].Key
	})
}
