package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dria-x-project/dkn/config"
	"github.com/dria-x-project/dkn/executor"
	"github.com/dria-x-project/dkn/internal/logger"
	"github.com/dria-x-project/dkn/message"
	"github.com/dria-x-project/dkn/p2p"
	"github.com/dria-x-project/dkn/payloads"
	"github.com/dria-x-project/dkn/worker"
)

// handleRequest handles one inbound request-response exchange. The body is
// tried in order as a spec request, a heartbeat acknowledgement, and a
// task request.
func (n *Node) handleRequest(ctx context.Context, request p2p.Request) error {
	if !n.nodes.ContainsRPC(request.Peer) {
		return fmt.Errorf("received unauthorized request from %s", request.Peer)
	}

	if specRequest, ok := parseStrict[payloads.SpecRequest](request.Data); ok {
		return n.handleSpecRequest(ctx, request, specRequest)
	}
	if ack, ok := parseStrict[payloads.HeartbeatResponse](request.Data); ok {
		return n.handleHeartbeatAck(ack)
	}

	envelope, err := message.FromBytesChecked(request.Data, n.commander.Protocol().Name, config.ProtocolVersion())
	if err == nil {
		return n.handleTaskRequest(ctx, request, envelope)
	}

	return fmt.Errorf("received unknown request from %s: %w", request.Peer, err)
}

// parseStrict decodes JSON rejecting unknown fields, so the request kinds
// cannot be confused for one another.
func parseStrict[T any](data []byte) (T, bool) {
	var value T
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&value); err != nil {
		return value, false
	}
	return value, true
}

// handleSpecRequest gathers machine specs and responds with them.
func (n *Node) handleSpecRequest(ctx context.Context, request p2p.Request, specRequest payloads.SpecRequest) error {
	n.log.Info("got a spec request",
		logger.String("peer", string(request.Peer)),
		logger.String("request_id", specRequest.RequestID.String()))

	response := payloads.SpecResponse{
		RequestID: specRequest.RequestID,
		Specs:     n.specs.Collect(ctx),
	}
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return n.commander.Respond(ctx, request.Reply, data)
}

// handleTaskRequest parses a task assignment, registers it as pending and
// hands it to the worker of its track.
func (n *Node) handleTaskRequest(ctx context.Context, request p2p.Request, envelope message.DriaMessage) error {
	input, metadata, err := n.prepareWorkerInput(envelope, request.Reply)
	if err != nil {
		return err
	}

	if input.Batchable {
		if n.taskBatchTx == nil {
			return fmt.Errorf("batchable task received but no worker available")
		}
		n.pendingBatch[input.TaskID] = metadata
		select {
		case n.taskBatchTx <- input:
		case <-ctx.Done():
			delete(n.pendingBatch, input.TaskID)
			return ctx.Err()
		}
	} else {
		if n.taskSingleTx == nil {
			return fmt.Errorf("single task received but no worker available")
		}
		n.pendingSingle[input.TaskID] = metadata
		select {
		case n.taskSingleTx <- input:
		case <-ctx.Done():
			delete(n.pendingSingle, input.TaskID)
			return ctx.Err()
		}
	}

	return nil
}

// prepareWorkerInput resolves a task request into a worker input and the
// metadata kept for its response.
func (n *Node) prepareWorkerInput(envelope message.DriaMessage, reply p2p.ResponseChannel) (worker.Input, taskMetadata, error) {
	var task payloads.TaskRequestPayload[executor.TaskBody]
	if err := envelope.ParsePayload(&task); err != nil {
		return worker.Input{}, taskMetadata{}, fmt.Errorf("could not parse task request: %w", err)
	}
	n.log.Info("handling task", logger.String("task_id", task.TaskID.String()))

	stats := payloads.TaskStats{}.RecordReceivedAt()

	// a legacy field; checked only when present
	if task.Deadline != nil && !time.Now().Before(*task.Deadline) {
		return worker.Input{}, taskMetadata{}, fmt.Errorf("task %s is past the deadline, ignoring", task.TaskID)
	}

	client, err := n.manager.GetExecutor(task.Input.Model)
	if err != nil {
		return worker.Input{}, taskMetadata{}, err
	}
	modelName := task.Input.Model.String()
	n.log.Info("using model for task",
		logger.String("model", modelName), logger.String("task_id", task.TaskID.String()))

	input := worker.Input{
		TaskID:    task.TaskID,
		RowID:     task.RowID,
		Executor:  client,
		Task:      task.Input,
		Stats:     stats,
		Batchable: task.Input.IsBatchable(),
	}
	metadata := taskMetadata{modelName: modelName, reply: reply}
	return input, metadata, nil
}

// handleTaskResponse resolves a worker output against its pending-task
// entry and responds through the stored reply channel.
func (n *Node) handleTaskResponse(ctx context.Context, output worker.Output) error {
	var metadata taskMetadata
	var found bool
	if output.Batchable {
		metadata, found = n.pendingBatch[output.TaskID]
		delete(n.pendingBatch, output.TaskID)
		n.completedBatch++
	} else {
		metadata, found = n.pendingSingle[output.TaskID]
		delete(n.pendingSingle, output.TaskID)
		n.completedSingle++
	}
	n.metrics.RecordTaskCompleted(output.Batchable, output.Err != nil)

	if !found {
		return fmt.Errorf("channel not found for task id %s", output.TaskID)
	}
	return n.sendOutput(ctx, output, metadata)
}

// sendOutput wraps a worker output into a signed response envelope and
// sends it back through the reply channel.
func (n *Node) sendOutput(ctx context.Context, output worker.Output, metadata taskMetadata) error {
	var response payloads.TaskResponsePayload
	if output.Err == nil {
		n.log.Info("publishing task result", logger.String("task_id", output.TaskID.String()))
		response = payloads.NewTaskResult(
			output.RowID, output.TaskID, metadata.modelName,
			output.Result, output.Stats.RecordPublishedAt())
	} else {
		errString := fmt.Sprintf("%+v", output.Err)
		n.log.Error("task failed",
			logger.String("task_id", output.TaskID.String()), logger.String("error", errString))
		response = payloads.NewTaskError(
			output.RowID, output.TaskID, metadata.modelName,
			errString, output.Stats.RecordPublishedAt())
	}

	payload, err := json.Marshal(response)
	if err != nil {
		return err
	}
	data, err := n.newMessage(payload, payloads.ResultTopic).Bytes()
	if err != nil {
		return err
	}
	return n.commander.Respond(ctx, metadata.reply, data)
}
