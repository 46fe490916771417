package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/leadflow/pkg/logstream"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/gofiber/fiber/v3"
)

// execution loads an execution and hides it from other tenants.
func (h *APIHandlers) execution(c fiber.Ctx) (*models.WorkflowExecution, error) {
	tenant, err := tenantOf(c)
	if err != nil {
		return nil, err
	}

	id := c.Params("id")

	execution, err := h.engine.Status(c.Context(), id)
	if err != nil {
		return nil, err
	}

	if execution.TenantID != tenant {
		return nil, persistence.NewExecutionError("Get", id, persistence.ErrExecutionNotFound)
	}

	return execution, nil
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.execution(c)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	execution, err := h.execution(c)
	if err != nil {
		return handleError(c, err)
	}

	err = h.engine.Cancel(c.Context(), execution.ID)
	if err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// RetryExecution starts a new execution linked to a failed one, re-entering at node_id.
func (h *APIHandlers) RetryExecution(c fiber.Ctx) error {
	execution, err := h.execution(c)
	if err != nil {
		return handleError(c, err)
	}

	var req RetryRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	executionID, err := h.engine.Retry(c.Context(), execution.ID, req.NodeID)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ExecutionStarted{ExecutionID: executionID})
}

func parseLogFilter(c fiber.Ctx) (logstream.Filter, error) {
	filter := logstream.Filter{NodeID: c.Query("node")}

	if levels := c.Query("level"); levels != "" {
		for _, raw := range strings.Split(levels, ",") {
			level := models.LogLevel(strings.TrimSpace(raw))
			if !level.IsValid() {
				return filter, fmt.Errorf("unknown log level %q", raw)
			}

			filter.Levels = append(filter.Levels, level)
		}
	}

	if after := c.Query("after"); after != "" {
		sequence, err := strconv.ParseInt(after, 10, 64)
		if err != nil || sequence < 0 {
			return filter, fmt.Errorf("after must be a non-negative sequence: %q", after)
		}

		filter.AfterSequence = sequence
	}

	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("limit must be a non-negative integer: %q", limit)
		}

		filter.Limit = n
	}

	return filter, nil
}

func (h *APIHandlers) GetExecutionLogs(c fiber.Ctx) error {
	execution, err := h.execution(c)
	if err != nil {
		return handleError(c, err)
	}

	filter, err := parseLogFilter(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	entries, err := h.logs.Query(c.Context(), execution.ID, filter)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"execution_id": execution.ID, "logs": entries})
}

// StreamExecutionLogs sends the log as server-sent events: the persisted history first, then live
// entries until the execution is terminal. Last-Event-ID resumes after a sequence.
func (h *APIHandlers) StreamExecutionLogs(c fiber.Ctx) error {
	execution, err := h.execution(c)
	if err != nil {
		return handleError(c, err)
	}

	filter, err := parseLogFilter(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if last := c.Get("Last-Event-ID"); last != "" {
		sequence, err := strconv.ParseInt(last, 10, 64)
		if err == nil && sequence > filter.AfterSequence {
			filter.AfterSequence = sequence
		}
	}

	// The writer outlives the handler, so the subscription cannot use the request context. A
	// client that goes away is noticed on the next failed write, at the latest on a heartbeat.
	ctx, cancel := context.WithCancel(context.Background())

	entries, err := h.logs.Subscribe(ctx, execution.ID)
	if err != nil {
		cancel()

		return handleError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	executionID := execution.ID
	logger := h.logger
	heartbeat := h.heartbeat

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			var err error

			select {
			case entry, ok := <-entries:
				if !ok {
					_ = writeEvent(w, "", "end", map[string]string{"execution_id": executionID})

					return
				}

				if !filter.Matches(entry) {
					continue
				}

				err = writeEvent(w, strconv.FormatInt(entry.Sequence, 10), "log", entry)
			case <-ticker.C:
				_, err = w.WriteString(": heartbeat\n\n")
				if err == nil {
					err = w.Flush()
				}
			}

			if err != nil {
				logger.Debug("Log stream client went away", "execution_id", executionID, "error", err)

				return
			}
		}
	})
}

func writeEvent(w *bufio.Writer, id, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}

	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)

	return w.Flush()
}
