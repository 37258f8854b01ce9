package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_checkouts_total",
		Help: "Checkout attempts labeled by outcome kind",
	}, []string{"outcome"})

	assignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_order_assignments_total",
		Help: "Order assignment results labeled by assignee role",
	}, []string{"result"})

	orderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_order_transitions_total",
		Help: "Order status transitions labeled by target status",
	}, []string{"status"})

	inventoryShortfallTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_inventory_shortfall_total",
		Help: "Completed orders whose stock decrement would have gone negative",
	})
)
