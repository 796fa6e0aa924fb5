package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/cuemby/devicehub/pkg/adapters/clusterlog"
)

// voterRequest is the admin HTTP body for adding or removing a raft
// voter, the same node-id/address pair clusterlog.Manager.AddVoter and
// warren's manager.AddVoter/RemoveServer take.
type voterRequest struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address,omitempty"`
}

type statusResponse struct {
	IsLeader bool   `json:"is_leader"`
	Leader   string `json:"leader"`
}

// registerClusterAdmin adds the raft cluster-membership endpoints a
// "devicehubd cluster" subcommand talks to: a join request is issued by
// an operator against the current leader's admin address, since only
// the leader may add or remove voters.
func registerClusterAdmin(mux *http.ServeMux, mgr *clusterlog.Manager) {
	mux.HandleFunc("/cluster/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, statusResponse{IsLeader: mgr.IsLeader(), Leader: mgr.Leader()})
	})

	mux.HandleFunc("/cluster/voters", func(w http.ResponseWriter, r *http.Request) {
		var req voterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var err error
		switch r.Method {
		case http.MethodPut:
			err = mgr.AddVoter(req.NodeID, req.Address)
		case http.MethodDelete:
			err = mgr.RemoveServer(req.NodeID)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Administer a devicehubd raft cluster's voter membership",
}

var clusterAddVoterCmd = &cobra.Command{
	Use:   "add-voter",
	Short: "Add a node as a raft voter via the current leader's admin address",
	RunE:  runClusterAddVoter,
}

var clusterRemoveServerCmd = &cobra.Command{
	Use:   "remove-server",
	Short: "Remove a node from the raft configuration via the current leader's admin address",
	RunE:  runClusterRemoveServer,
}

var clusterStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a node's raft leadership status",
	RunE:  runClusterStatus,
}

func init() {
	for _, c := range []*cobra.Command{clusterAddVoterCmd, clusterRemoveServerCmd, clusterStatusCmd} {
		c.Flags().String("admin-addr", "127.0.0.1:9090", "Target node's metrics/admin HTTP address")
	}
	clusterAddVoterCmd.Flags().String("node-id", "", "Joining node's raft id (required)")
	clusterAddVoterCmd.Flags().String("node-addr", "", "Joining node's raft bind address (required)")
	_ = clusterAddVoterCmd.MarkFlagRequired("node-id")
	_ = clusterAddVoterCmd.MarkFlagRequired("node-addr")

	clusterRemoveServerCmd.Flags().String("node-id", "", "Departing node's raft id (required)")
	_ = clusterRemoveServerCmd.MarkFlagRequired("node-id")

	clusterCmd.AddCommand(clusterAddVoterCmd, clusterRemoveServerCmd, clusterStatusCmd)
}

func runClusterAddVoter(cmd *cobra.Command, _ []string) error {
	adminAddr, _ := cmd.Flags().GetString("admin-addr")
	nodeID, _ := cmd.Flags().GetString("node-id")
	nodeAddr, _ := cmd.Flags().GetString("node-addr")
	return clusterVoterRequest(http.MethodPut, adminAddr, voterRequest{NodeID: nodeID, Address: nodeAddr})
}

func runClusterRemoveServer(cmd *cobra.Command, _ []string) error {
	adminAddr, _ := cmd.Flags().GetString("admin-addr")
	nodeID, _ := cmd.Flags().GetString("node-id")
	return clusterVoterRequest(http.MethodDelete, adminAddr, voterRequest{NodeID: nodeID})
}

func clusterVoterRequest(method, adminAddr string, body voterRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, "http://"+adminAddr+"/cluster/voters", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("devicehubd: cluster admin request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("devicehubd: cluster admin request failed: %s: %s", resp.Status, detail)
	}
	fmt.Println("done")
	return nil
}

func runClusterStatus(cmd *cobra.Command, _ []string) error {
	adminAddr, _ := cmd.Flags().GetString("admin-addr")
	resp, err := http.Get("http://" + adminAddr + "/cluster/status")
	if err != nil {
		return fmt.Errorf("devicehubd: cluster status request: %w", err)
	}
	defer resp.Body.Close()

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("devicehubd: decode status: %w", err)
	}
	fmt.Printf("leader: %s\nis_leader: %v\n", status.Leader, status.IsLeader)
	return nil
}
