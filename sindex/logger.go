// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package sindex

import "github.com/ethereum/go-ethereum/log"

var logger = log.New("pkg", "sindex")
