package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/goinginblind/support-ticket-bot/internal/mailer"
	"github.com/goinginblind/support-ticket-bot/internal/ticket"
)

const manifestName = "issue.json"

// <n>_<dd-mm-yyyy>_<hh-mm>
var legacyFolderRe = regexp.MustCompile(`^(\d+)_(\d{2})-(\d{2})-(\d{4})_(\d{2})-(\d{2})$`)

// FolderScheduler дочищает старые обращения, лежащие папками:
// <reportsDir>/<userId>/<n>_<date>_<time>/issue.json + файлы.
// Новые обращения сюда не пишутся.
type FolderScheduler struct {
	dir   string
	mail  Mailer
	email EmailSource
	alert Alerter
	log   *zap.SugaredLogger

	running sync.Mutex

	alertMu sync.Mutex
	alerted map[string]bool
}

func NewFolderScheduler(dir string, mail Mailer, email EmailSource, alert Alerter, log *zap.SugaredLogger) *FolderScheduler {
	return &FolderScheduler{dir: dir, mail: mail, email: email, alert: alert, log: log, alerted: make(map[string]bool)}
}

func (f *FolderScheduler) Name() string { return "legacy-folders" }

func (f *FolderScheduler) RunOnce(ctx context.Context) (Stats, bool) {
	if !f.running.TryLock() {
		return Stats{}, false
	}
	defer f.running.Unlock()

	var st Stats
	if f.dir == "" {
		return st, true
	}
	cfg := f.email.Email()
	if cfg.SupportEmail == "" {
		return st, true
	}

	folders, err := f.scan()
	if err != nil {
		f.log.Errorw("scan reports dir", "dir", f.dir, "error", err)
		return st, true
	}
	for _, folder := range folders {
		if ctx.Err() != nil {
			break
		}
		switch err := f.deliver(ctx, folder); {
		case err == nil:
			st.Sent++
		case errors.Is(err, errTooLarge):
			st.Skipped++
		default:
			f.log.Errorw("legacy report not delivered", "folder", folder, "error", err)
			st.Failed++
		}
	}
	if st.Sent+st.Failed+st.Skipped > 0 {
		f.log.Infow("legacy pass done", "sent", st.Sent, "failed", st.Failed, "skipped", st.Skipped)
	}
	return st, true
}

// scan возвращает папки обращений, где есть issue.json.
func (f *FolderScheduler) scan() ([]string, error) {
	users, err := os.ReadDir(f.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, u := range users {
		if !u.IsDir() {
			continue
		}
		reports, err := os.ReadDir(filepath.Join(f.dir, u.Name()))
		if err != nil {
			return nil, err
		}
		for _, r := range reports {
			if !r.IsDir() {
				continue
			}
			p := filepath.Join(f.dir, u.Name(), r.Name())
			if _, err := os.Stat(filepath.Join(p, manifestName)); err == nil {
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

var errTooLarge = errors.New("attachments exceed email limit")

func (f *FolderScheduler) deliver(ctx context.Context, folder string) error {
	raw, err := os.ReadFile(filepath.Join(folder, manifestName))
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	m, err := ticket.ParseManifest(raw)
	if err != nil {
		return err
	}

	var (
		atts  []mailer.Attachment
		names []string
		total int64
	)
	for _, mf := range m.Files {
		data, err := os.ReadFile(filepath.Join(folder, filepath.Base(mf.Name)))
		if err != nil {
			f.log.Warnw("legacy attachment missing", "folder", folder, "file", mf.Name, "error", err)
			continue
		}
		total += int64(len(data))
		atts = append(atts, mailer.Attachment{Name: mf.Name, Data: data})
		name := mf.Name
		if mf.Description != "" {
			name += " (" + mf.Description + ")"
		}
		names = append(names, name)
	}
	if total > MaxAttachmentsSize {
		f.alertOnce(ctx, folder, fmt.Sprintf("Старое обращение %s не отправлено: вложения больше %d МБ.", filepath.Base(folder), MaxAttachmentsSize>>20))
		return errTooLarge
	}

	data := mailer.TicketData{
		Ref:            filepath.Base(folder),
		CreatedAt:      legacyCreatedAt(folder),
		Organization:   m.Company,
		Branch:         m.Filial,
		Classification: m.Classification,
		Anonymous:      m.Type == "" || m.Type.Anonymous(),
		Message:        m.Text,
		Files:          names,
	}
	if !data.Anonymous {
		data.TelegramID, _ = strconv.ParseInt(m.User, 10, 64)
		// в старом формате в type лежал email автора, у анонимных null
		if strings.Contains(string(m.Type), "@") {
			data.AuthorEmail = string(m.Type)
		}
	}

	cfg := f.email.Email()
	msg, err := mailer.Render(cfg.TicketSubject, cfg.TicketTemplate, data)
	if err != nil {
		if msg, err = mailer.Render("", "", data); err != nil {
			return err
		}
	}
	if err := f.mail.SendTicketNotification(ctx, cfg.SupportEmail, msg.Subject, msg.HTML, msg.Text, atts); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	if err := os.RemoveAll(folder); err != nil {
		return fmt.Errorf("remove delivered folder: %w", err)
	}
	f.removeEmptyParents(filepath.Dir(folder))
	f.log.Infow("legacy report delivered", "folder", folder)
	return nil
}

// removeEmptyParents поднимается до dir и удаляет пустые папки.
func (f *FolderScheduler) removeEmptyParents(p string) {
	root := filepath.Clean(f.dir)
	for p = filepath.Clean(p); p != root && len(p) > len(root); p = filepath.Dir(p) {
		entries, err := os.ReadDir(p)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(p); err != nil {
			return
		}
	}
}

func (f *FolderScheduler) alertOnce(ctx context.Context, folder, text string) {
	f.alertMu.Lock()
	seen := f.alerted[folder]
	f.alerted[folder] = true
	f.alertMu.Unlock()
	if seen || f.alert == nil {
		return
	}
	f.alert.AlertAdmins(ctx, text)
}

// legacyCreatedAt достаёт дату из имени папки, иначе берёт mtime.
func legacyCreatedAt(folder string) time.Time {
	if m := legacyFolderRe.FindStringSubmatch(filepath.Base(folder)); m != nil {
		day, _ := strconv.Atoi(m[2])
		month, _ := strconv.Atoi(m[3])
		year, _ := strconv.Atoi(m[4])
		hour, _ := strconv.Atoi(m[5])
		minute, _ := strconv.Atoi(m[6])
		return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.Local)
	}
	if info, err := os.Stat(folder); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}
