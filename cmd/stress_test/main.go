package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rl1809/marketplace/internal/app"
	"github.com/rl1809/marketplace/internal/config"
	"github.com/rl1809/marketplace/internal/core/domain"
)

const (
	city           = domain.CityID(1)
	productID      = 1
	price          = 10
	initialBalance = 100
	initialStock   = 5
	totalRequests  = 50
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	logger, err := logCfg.Build()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to build app: %v", err)
	}
	defer a.Close()

	// ids unique per run so repeated runs against MySQL do not collide
	base := time.Now().Unix() % 1_000_000 * 1000
	buyer := base + 1
	shop := base + 2
	record := base + 3
	managers := []int64{base + 10, base + 11, base + 12}

	seed := a.Stores.Seeder
	must(seed.SeedUser(ctx, buyer, domain.RoleCustomer, city))
	for _, m := range managers {
		must(seed.SeedUser(ctx, m, domain.RoleManager, city))
	}
	must(seed.SeedProduct(ctx, productID, price))
	must(seed.SeedShop(ctx, shop, city))
	must(seed.SeedInventory(ctx, domain.InventoryRecord{ID: record, ShopID: shop, ProductID: productID, Quantity: totalRequests}))
	if _, _, err := a.Ledger.AddCard(ctx, buyer, initialBalance); err != nil {
		log.Fatalf("failed to add card: %v", err)
	}

	// Phase 1: concurrent checkouts from one account
	var successCount atomic.Int32
	failures := make(map[domain.ErrorKind]int)
	var mu sync.Mutex
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			if err := a.Carts.AddOrUpdate(ctx, buyer, productID, 1); err != nil {
				mu.Lock()
				failures[domain.KindOf(err)]++
				mu.Unlock()
				return
			}
			_, err := a.Checkout.Checkout(ctx, buyer, fmt.Sprintf("stress-%d", n))
			if err == nil {
				successCount.Add(1)
				return
			}
			mu.Lock()
			failures[domain.KindOf(err)]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	acc, err := a.Ledger.Account(ctx, buyer)
	if err != nil {
		log.Fatalf("failed to read account: %v", err)
	}
	success := int64(successCount.Load())

	fmt.Println("========== CHECKOUT STRESS RESULTS ==========")
	fmt.Printf("Initial Balance:  %d\n", initialBalance)
	fmt.Printf("Unit Price:       %d\n", price)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	for kind, n := range failures {
		fmt.Printf("Failed %-20s %d\n", kind.String()+":", n)
	}
	fmt.Printf("Final Balance:    %d\n", acc.Balance)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("=============================================")

	ok := true
	if acc.Balance < 0 || acc.Balance != initialBalance-success*price {
		fmt.Printf("FAIL: balance %d does not match %d successful checkouts\n", acc.Balance, success)
		ok = false
	} else {
		fmt.Println("PASS: no double spend")
	}
	if success > initialBalance/price {
		fmt.Printf("FAIL: %d checkouts exceed what the balance covers\n", success)
		ok = false
	}

	// Phase 2: concurrent completion against a small stock record
	must(seed.SeedInventory(ctx, domain.InventoryRecord{ID: record, ShopID: shop, ProductID: productID, Quantity: initialStock}))

	orders, err := a.Engine.CustomerOrders(ctx, buyer)
	if err != nil {
		log.Fatalf("failed to list orders: %v", err)
	}

	var completed, shortfalls atomic.Int32
	for _, o := range orders {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := a.Engine.Complete(ctx, id)
			if err != nil {
				return
			}
			completed.Add(1)
			if res.InventoryShortfall {
				shortfalls.Add(1)
			}
		}(o.ID)
	}
	wg.Wait()

	rec, err := a.Inventory.Record(ctx, record)
	if err != nil {
		log.Fatalf("failed to read record: %v", err)
	}

	fmt.Println("========== COMPLETION STRESS RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Completed:        %d\n", completed.Load())
	fmt.Printf("Shortfalls:       %d\n", shortfalls.Load())
	fmt.Printf("Final Stock:      %d\n", rec.Quantity)
	fmt.Println("===============================================")

	consumed := int(completed.Load() - shortfalls.Load())
	if rec.Quantity < 0 || rec.Quantity != initialStock-consumed {
		fmt.Printf("FAIL: stock %d does not match %d consumed units\n", rec.Quantity, consumed)
		ok = false
	} else {
		fmt.Println("PASS: no oversell")
	}

	if !ok {
		os.Exit(1)
	}
}

func must(err error) {
	if err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}
