package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"liblend/admin"
	"liblend/cart"
	"liblend/checkout"
	"liblend/domain"
	"liblend/log"
	"liblend/notify"
	"liblend/repository"
	"liblend/statemachine"
)

const requestTimeout = 10 * time.Second

func main() {
	db := repository.InitDatabase()
	books := repository.NewBookRepo(db)
	tickets := repository.NewTicketRepo(db)
	eventLogs := repository.NewEventLogRepo(db)

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD"), DB: 0})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		log.GetLogger(context.Background()).Fatalf("error creating redis client %s", err)
	}

	carts := cart.NewRedisStore(client)
	notifier := notify.NewNotifier(client)
	machine := statemachine.NewMachine(db)
	coordinator := checkout.NewCoordinator(db, machine, carts)
	actions := admin.NewHandler(machine, tickets, books, notifier)

	router := gin.Default()
	router.Use(requestLogger())
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	authed := router.Group("/", requireUser())

	authed.POST("/checkout", func(c *gin.Context) {
		var req domain.CheckoutRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx, cancel := context.WithTimeout(c, requestTimeout)
		defer cancel()

		created, err := coordinator.Checkout(ctx, userID(c), req.BookIDs)
		if err != nil {
			abortWithError(c, err)
			return
		}
		ids := make([]uint, 0, len(created))
		for _, t := range created {
			ids = append(ids, t.ID)
		}
		c.JSON(http.StatusCreated, gin.H{"created_ticket_ids": ids})
	})

	authed.POST("/borrow/:ticket_id/accept", func(c *gin.Context) {
		ticketAction(c, actions.AcceptBorrow)
	})
	authed.POST("/borrow/:ticket_id/decline", func(c *gin.Context) {
		ticketAction(c, actions.DeclineBorrow)
	})
	authed.POST("/return/:ticket_id", func(c *gin.Context) {
		ticketAction(c, actions.RequestReturn)
	})
	authed.POST("/return/:ticket_id/accept", func(c *gin.Context) {
		ticketAction(c, actions.AcceptReturn)
	})
	authed.POST("/return/:ticket_id/decline", func(c *gin.Context) {
		ticketAction(c, actions.DeclineReturn)
	})
	authed.POST("/cancel/:ticket_id", func(c *gin.Context) {
		ticketAction(c, actions.CancelTicket)
	})

	authed.GET("/tickets", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, requestTimeout)
		defer cancel()
		list, err := tickets.ListByBorrower(ctx, userID(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})

	authed.GET("/tickets/filter/:scope", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, requestTimeout)
		defer cancel()
		var (
			list []repository.Ticket
			err  error
		)
		switch c.Param("scope") {
		case "all":
			list, err = tickets.ListAll(ctx)
		case "open":
			list, err = tickets.ListOpen(ctx)
		case "closed":
			list, err = tickets.ListClosed(ctx)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scope"})
			return
		}
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})

	authed.GET("/ticket/:ticket_id", func(c *gin.Context) {
		id, ok := ticketID(c)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(c, requestTimeout)
		defer cancel()
		ticket, err := tickets.GetById(ctx, id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		logs, err := eventLogs.List(ctx, id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ticket": ticket, "event_logs": logs})
	})

	authed.POST("/books", func(c *gin.Context) {
		var req domain.CreateBookRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx, cancel := context.WithTimeout(c, requestTimeout)
		defer cancel()
		book := repository.Book{
			Title:     req.Title,
			Author:    req.Author,
			Quantity:  req.Quantity,
			Available: req.Quantity,
		}
		if err := books.Create(ctx, &book); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, book)
	})

	authed.GET("/books/:book_id", func(c *gin.Context) {
		id, ok := bookID(c)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(c, requestTimeout)
		defer cancel()
		book, err := books.GetById(ctx, id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, book)
	})

	authed.DELETE("/books/:book_id", func(c *gin.Context) {
		id, ok := bookID(c)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(c, requestTimeout)
		defer cancel()
		if err := books.SoftDelete(ctx, id); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	authed.PATCH("/books/:book_id/quantity", func(c *gin.Context) {
		id, ok := bookID(c)
		if !ok {
			return
		}
		var req domain.AdjustQuantityRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx, cancel := context.WithTimeout(c, requestTimeout)
		defer cancel()
		book, err := actions.AdjustBookQuantity(ctx, id, req.Quantity, userID(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, book)
	})

	authed.GET("/cart", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, requestTimeout)
		defer cancel()
		ids, err := carts.List(ctx, userID(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"book_ids": ids})
	})

	authed.POST("/cart", func(c *gin.Context) {
		var req domain.CartAddRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx, cancel := context.WithTimeout(c, requestTimeout)
		defer cancel()
		book, err := books.GetById(ctx, req.BookID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if book.Deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": "book not found"})
			return
		}
		if err = carts.Add(ctx, userID(c), req.BookID); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	authed.DELETE("/cart/:book_id", func(c *gin.Context) {
		id, ok := bookID(c)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(c, requestTimeout)
		defer cancel()
		if err := carts.Remove(ctx, userID(c), id); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	if err := router.Run(":8080"); err != nil {
		log.GetLogger(context.Background()).Fatalf("server stopped: %s", err)
	}
}

// requestLogger attaches a request-scoped logger with a request id so engine
// packages log with consistent fields.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := log.WithFields(c.Request.Context(), logrus.Fields{
			"request_id": uuid.New().String(),
			"path":       c.FullPath(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// requireUser expects the authenticated user id from the upstream auth layer.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-User-ID") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
			return
		}
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetHeader("X-User-ID")
}

func ticketID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("ticket_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return 0, false
	}
	return uint(id), true
}

func bookID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("book_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return 0, false
	}
	return uint(id), true
}

// ticketAction runs one named lifecycle operation and renders the updated
// ticket.
func ticketAction(c *gin.Context, op func(context.Context, uint, string) (repository.Ticket, error)) {
	id, ok := ticketID(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c, requestTimeout)
	defer cancel()
	ticket, err := op(ctx, id, userID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

// abortWithError maps the engine's error taxonomy onto HTTP statuses.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, cart.ErrAlreadyInCart):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientInventory),
		errors.Is(err, domain.ErrDuplicateOpenTicket),
		errors.Is(err, domain.ErrConcurrencyConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.GetLogger(c.Request.Context()).WithError(err).Errorf("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
