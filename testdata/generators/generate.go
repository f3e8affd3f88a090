package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/normalize"
	"ghithu-reconciliation-service/internal/sheets"
	"ghithu-reconciliation-service/internal/sources"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var (
	groups    = []string{"Sang Sơn", "Minh Tâm", "Hữu Phước"}
	streets   = []string{"Lê Lợi", "Hàm Nghi", "Pasteur", "Nguyễn Huệ", "Calmette", "Ký Con"}
	surnames  = []string{"Nguyễn", "Trần", "Lê", "Phạm", "Võ", "Đặng"}
	given     = []string{"An", "Bình", "Chi", "Dũng", "Hạnh", "Khoa", "Lan", "Phúc"}
	tariffs   = []string{"11", "11", "11", "21", "31", "51"}
	codes     = []string{"4", "4", "4", "5", "K", "N"}
	lockTypes = []string{"Khóa từ", "van", "Nội bộ"}
)

type account struct {
	id       string
	name     string
	house    string
	street   string
	tariff   string
	batch    int
	box      bool
	group    string
	assigned time.Time
	invoices []invoice
}

type invoice struct {
	number  string
	month   int
	year    int
	amount  int
	settled *time.Time
	online  *time.Time
}

func main() {
	var (
		outputDir = flag.String("output-dir", "../generated", "output directory")
		count     = flag.Int("accounts", 60, "number of assigned accounts")
		seed      = flag.Int64("seed", 0, "random seed (0: current time)")
		start     = flag.String("start", "", "first assignment day, dd/mm/yyyy (default: last Monday)")
	)
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	week := lastMonday(time.Now())
	if *start != "" {
		t := normalize.ParseDate(*start)
		if t == nil {
			log.Fatalf("Invalid -start %q, expected dd/mm/yyyy", *start)
		}
		week = normalize.DayOf(*t)
	}

	if err := os.MkdirAll(filepath.Join(*outputDir, "ledger"), 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	fmt.Println("Generating demo dataset...")
	fmt.Println("==========================")
	fmt.Printf("Seed: %d\nWeek: %s\n\n", *seed, week.Format(normalize.DisplayDateLayout))

	rng := rand.New(rand.NewSource(*seed))
	accounts := generateAccounts(rng, *count, week)

	dbPath := filepath.Join(*outputDir, "billing.db")
	if err := writeBilling(dbPath, accounts, week, rng); err != nil {
		log.Fatalf("Failed to write billing database: %v", err)
	}
	fmt.Printf("✓ %s\n", dbPath)

	ledgerDir := filepath.Join(*outputDir, "ledger")
	if err := writeLedger(ledgerDir, accounts, rng); err != nil {
		log.Fatalf("Failed to write ledger: %v", err)
	}
	fmt.Printf("✓ %s\n", ledgerDir)

	cfgPath := filepath.Join(*outputDir, "ghithu.yaml")
	if err := writeConfig(cfgPath, dbPath, ledgerDir); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
	fmt.Printf("✓ %s\n\n", cfgPath)

	end := week.AddDate(0, 0, 4)
	fmt.Println("Try:")
	fmt.Printf("  ghithu --config %s report --start %s --end %s --deadline %s\n", cfgPath,
		week.Format(normalize.DisplayDateLayout), end.Format(normalize.DisplayDateLayout),
		end.AddDate(0, 0, 3).Format(normalize.DisplayDateLayout))
	fmt.Printf("  ghithu --config %s filter --year %d --period %d --min-periods 2\n", cfgPath, week.Year(), int(week.Month()))
	fmt.Printf("  ghithu --config %s dashboard --breakdowns\n", cfgPath)
}

func lastMonday(now time.Time) time.Time {
	day := normalize.DayOf(now)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset-7)
}

func generateAccounts(rng *rand.Rand, n int, week time.Time) []account {
	accounts := make([]account, n)
	for i := range accounts {
		a := account{
			id:       fmt.Sprintf("%011d", 13000000+rng.Intn(900000)),
			name:     surnames[rng.Intn(len(surnames))] + " " + given[rng.Intn(len(given))],
			house:    strconv.Itoa(1 + rng.Intn(200)),
			street:   streets[rng.Intn(len(streets))],
			tariff:   tariffs[rng.Intn(len(tariffs))],
			batch:    1 + rng.Intn(20),
			box:      rng.Intn(4) == 0,
			group:    groups[i%len(groups)],
			assigned: week.AddDate(0, 0, rng.Intn(5)),
		}

		// One to four consecutive open periods ending last month.
		periods := 1 + rng.Intn(4)
		last := week.AddDate(0, -1, 0)
		for p := periods - 1; p >= 0; p-- {
			billed := last.AddDate(0, -p, 0)
			a.invoices = append(a.invoices, invoice{
				number: fmt.Sprintf("HD%s%04d%02d", a.id[len(a.id)-6:], billed.Year(), int(billed.Month())),
				month:  int(billed.Month()),
				year:   billed.Year(),
				amount: 50000 + rng.Intn(40)*10000,
			})
		}

		switch r := rng.Intn(10); {
		case r < 4:
			// Paid at the counter during the week.
			paid := a.assigned.Add(time.Duration(24+rng.Intn(72)) * time.Hour).Add(9 * time.Hour)
			for j := range a.invoices {
				a.invoices[j].settled = &paid
			}
		case r < 6:
			// Paid online; the billing system has not caught up.
			paid := a.assigned.Add(time.Duration(rng.Intn(96)) * time.Hour)
			for j := range a.invoices {
				a.invoices[j].online = &paid
			}
		}
		accounts[i] = a
	}
	return accounts
}

func writeBilling(path string, accounts []account, week time.Time, rng *rand.Rand) error {
	os.Remove(path)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	schema := []string{
		`CREATE TABLE HoaDon (DANHBA TEXT, TENKH TEXT, SO TEXT, DUONG TEXT, GB TEXT, DOT INTEGER,
			KY INTEGER, NAM INTEGER, SOHOADON TEXT, TONGCONG INTEGER, NGAYGIAI TEXT)`,
		`CREATE TABLE BGW_HD (SHDon TEXT, NgayThanhToan TEXT)`,
		`CREATE TABLE KhachHang (DanhBa TEXT, MLT2 TEXT, SoMoi TEXT, SoThan TEXT, Hieu TEXT, HopBaoVe TEXT, SDT TEXT, GB TEXT)`,
		`CREATE TABLE DocSo (DanhBa TEXT, CodeMoi TEXT, CoCu TEXT, Nam INTEGER, Ky INTEGER)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}

	return db.Transaction(func(tx *gorm.DB) error {
		for _, a := range accounts {
			box := "0"
			if a.box {
				box = "1"
			}
			if err := tx.Exec(`INSERT INTO KhachHang VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				a.id, fmt.Sprintf("%02d%03d", a.batch, rng.Intn(1000)), a.house+" "+a.street,
				fmt.Sprintf("%08d", rng.Intn(100000000)), "Itron", box, "09"+fmt.Sprintf("%08d", rng.Intn(100000000)), a.tariff,
			).Error; err != nil {
				return err
			}
			if err := tx.Exec(`INSERT INTO DocSo VALUES (?, ?, ?, ?, ?)`,
				a.id, codes[rng.Intn(len(codes))], "Tốt", week.Year(), int(week.Month()),
			).Error; err != nil {
				return err
			}
			for _, inv := range a.invoices {
				var settled any
				if inv.settled != nil {
					settled = inv.settled.Format("2006-01-02 15:04:05")
				}
				if err := tx.Exec(`INSERT INTO HoaDon VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					a.id, a.name, a.house, a.street, a.tariff, a.batch,
					inv.month, inv.year, inv.number, inv.amount, settled,
				).Error; err != nil {
					return err
				}
				if inv.online != nil {
					if err := tx.Exec(`INSERT INTO BGW_HD VALUES (?, ?)`,
						inv.number, inv.online.Format("2006-01-02 15:04:05"),
					).Error; err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

func writeLedger(dir string, accounts []account, rng *rand.Rand) error {
	ctx := context.Background()
	for _, name := range []string{sheets.AssignmentSheet, sheets.LockSheet} {
		os.Remove(filepath.Join(dir, name+".csv"))
	}
	store := sheets.NewCSVStore(dir, sheets.NoLocker{}, nil)

	assigned := gateway.NewTable(
		sources.ColID, sources.ColAccount, sources.ColAssignedDate, sources.ColGroup, sources.ColPeriods,
		sources.ColCustomer, sources.ColHouse, sources.ColStreet, sources.ColTariff, sources.ColBatch,
		sources.ColBox, sources.ColTotalPeriods, sources.ColTotalAmount,
	)
	locks := gateway.NewTable(
		sources.ColLockID, sources.ColLockAccount, sources.ColLockStatus, sources.ColLockedAt,
		sources.ColUnlockedAt, sources.ColLockGroup, sources.ColLockType,
	)

	for _, a := range accounts {
		id := a.id + "-" + a.assigned.Format("02012006")
		tags := make([]string, len(a.invoices))
		total := 0
		for i, inv := range a.invoices {
			tags[i] = fmt.Sprintf("%02d/%d", inv.month, inv.year)
			total += inv.amount
		}
		box := "0"
		if a.box {
			box = "1"
		}
		assigned.AppendValues(
			id, a.id, a.assigned.Format(normalize.DisplayDateLayout), a.group, strings.Join(tags, ","),
			a.name, a.house, a.street, a.tariff, strconv.Itoa(a.batch),
			box, strconv.Itoa(len(a.invoices)), strconv.Itoa(total),
		)

		if a.invoices[0].settled == nil && a.invoices[0].online == nil && rng.Intn(4) == 0 {
			lockedAt := a.assigned.Add(time.Duration(26+rng.Intn(48)) * time.Hour)
			unlocked := ""
			status := "Đang khóa"
			if rng.Intn(3) == 0 {
				unlocked = lockedAt.Add(30 * time.Hour).Format("02/01/2006 15:04:05")
				status = "Đã mở"
			}
			locks.AppendValues(
				id, a.id, status, lockedAt.Format("02/01/2006 15:04:05"),
				unlocked, a.group, lockTypes[rng.Intn(len(lockTypes))],
			)
		}
	}

	if n, msg := store.AppendRows(ctx, sheets.AssignmentSheet, assigned); n == 0 {
		return fmt.Errorf("%s: %s", sheets.AssignmentSheet, msg)
	}
	if locks.Empty() {
		header := "," + strings.Join(locks.Columns, ",") + "\n"
		return os.WriteFile(store.Path(sheets.LockSheet), []byte(header), 0o644)
	}
	if n, msg := store.AppendRows(ctx, sheets.LockSheet, locks); n == 0 {
		return fmt.Errorf("%s: %s", sheets.LockSheet, msg)
	}
	return nil
}

func writeConfig(path, dbPath, ledgerDir string) error {
	absDB, _ := filepath.Abs(dbPath)
	absLedger, _ := filepath.Abs(ledgerDir)
	cfg := fmt.Sprintf(`environment: demo

gateway:
  mode: sql
  sql:
    driver: sqlite
    dsn: %s

sheets:
  mode: csv
  dir: %s

cache:
  backend: memory

staff:
  Sang Sơn: [Lê Sang, Trần Sơn]
  Minh Tâm: [Võ Minh, Đặng Tâm]
`, absDB, absLedger)
	return os.WriteFile(path, []byte(cfg), 0o644)
}
