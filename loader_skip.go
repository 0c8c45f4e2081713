// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "fmt"

// skipMetadataTable computes the byte width of a metadata table the nano
// loader does not resolve into the object graph, so that later tables'
// offsets stay correct when one of these rare tables is present.
func (pe *File) skipMetadataTable(tableIdx int, off uint32) (uint32, error) {
	table, ok := pe.CLR.MetadataTables[tableIdx]
	if !ok {
		return 0, nil
	}

	var rowWidth uint32
	switch tableIdx {
	case FieldPtr:
		rowWidth = pe.getCodedIndexSize(0, Field)
	case MethodPtr:
		rowWidth = pe.getCodedIndexSize(0, Method)
	case ParamPtr:
		rowWidth = pe.getCodedIndexSize(0, Param)
	case EventPtr:
		rowWidth = pe.getCodedIndexSize(0, Event)
	case PropertyPtr:
		rowWidth = pe.getCodedIndexSize(0, Property)
	case ENCLog:
		rowWidth = 8
	case ENCMap:
		rowWidth = 4
	case AssemblyProcessor:
		rowWidth = 4
	case AssemblyOS:
		rowWidth = 12
	case AssemblyRefProcessor:
		rowWidth = 4 + pe.getCodedIndexSize(0, AssemblyRef)
	case AssemblyRefOS:
		rowWidth = 12 + pe.getCodedIndexSize(0, AssemblyRef)
	case FileMD:
		rowWidth = 4 +
			pe.getCodedIndexSize(0, int(idxStringStream)) +
			pe.getCodedIndexSize(0, int(idxBlobStream))
	default:
		return 0, fmt.Errorf("no row-width rule for metadata table index %d", tableIdx)
	}
	return rowWidth * table.CountCols, nil
}
